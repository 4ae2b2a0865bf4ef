package validatorclient

import "context"

// Static is a test fake returning a fixed Result regardless of input.
type Static struct {
	Result *Result
	Err    error
}

func (s *Static) Validate(context.Context, string) (*Result, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &Result{}, nil
	}
	return s.Result, nil
}
