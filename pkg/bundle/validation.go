package bundle

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sentinelcp/control-plane/internal/validatorclient"
)

// RuleKind discriminates a ValidationRule's check.
type RuleKind string

const (
	RuleRequiredField   RuleKind = "required_field"
	RuleForbiddenPattern RuleKind = "forbidden_pattern"
	RuleAllowedPattern  RuleKind = "allowed_pattern"
	RuleMaxSize         RuleKind = "max_size"
	RuleJSONSchema      RuleKind = "json_schema"
)

// ValidationRule is one per-project rule applied at compile time
// (spec.md §4.3 "Validation rules").
type ValidationRule struct {
	Name     string
	Kind     RuleKind
	Severity validatorclient.Severity
	Field    string // required_field
	Pattern  string // forbidden_pattern / allowed_pattern (regex)
	MaxBytes int64  // max_size
	Schema   string // json_schema (best-effort: a substring that must appear in the source)
}

// ApplyRules evaluates every rule against configSource, returning one
// Issue per violation.
func ApplyRules(rules []ValidationRule, configSource string) ([]validatorclient.Issue, error) {
	var issues []validatorclient.Issue
	for _, rule := range rules {
		issue, err := applyRule(rule, configSource)
		if err != nil {
			return nil, fmt.Errorf("applying rule %q: %w", rule.Name, err)
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, nil
}

func applyRule(rule ValidationRule, configSource string) (*validatorclient.Issue, error) {
	switch rule.Kind {
	case RuleRequiredField:
		if strings.Contains(configSource, rule.Field) {
			return nil, nil
		}
		return &validatorclient.Issue{
			Rule: rule.Name, Severity: rule.Severity,
			Message: fmt.Sprintf("required field %q is missing", rule.Field),
		}, nil

	case RuleForbiddenPattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		if !re.MatchString(configSource) {
			return nil, nil
		}
		return &validatorclient.Issue{
			Rule: rule.Name, Severity: rule.Severity,
			Message: fmt.Sprintf("forbidden pattern %q matched", rule.Pattern),
		}, nil

	case RuleAllowedPattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		for lineNum, line := range strings.Split(configSource, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !re.MatchString(line) {
				return &validatorclient.Issue{
					Rule: rule.Name, Severity: rule.Severity,
					Message: fmt.Sprintf("line does not match allowed pattern %q", rule.Pattern),
					Line:    lineNum + 1,
				}, nil
			}
		}
		return nil, nil

	case RuleMaxSize:
		if int64(len(configSource)) <= rule.MaxBytes {
			return nil, nil
		}
		return &validatorclient.Issue{
			Rule: rule.Name, Severity: rule.Severity,
			Message: fmt.Sprintf("config source exceeds max_size of %d bytes", rule.MaxBytes),
		}, nil

	case RuleJSONSchema:
		if rule.Schema == "" || strings.Contains(configSource, rule.Schema) {
			return nil, nil
		}
		return &validatorclient.Issue{
			Rule: rule.Name, Severity: rule.Severity,
			Message: fmt.Sprintf("config source does not satisfy schema marker %q", rule.Schema),
		}, nil

	default:
		return nil, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}
