package rollout

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// Approve records one operator's approval, advancing the rollout to
// approved once the project's required count is met (spec.md §4.6.2).
// approversNeeded comes from the owning project's settings. Role
// membership (operator-or-higher) is enforced by the caller before
// invoking this method, the same way API-key ownership is resolved
// externally (spec.md §1); on failure the caller should surface
// apperr.NotAuthorized itself.
func (e *Engine) Approve(ctx context.Context, rolloutID, userID uuid.UUID, approversNeeded int) (store.Rollout, error) {
	return e.decideApproval(ctx, rolloutID, userID, true, "", approversNeeded)
}

// Reject records a non-empty-comment rejection, leaving the rollout in
// state=pending but marking approval_state=rejected (cancellable).
func (e *Engine) Reject(ctx context.Context, rolloutID, userID uuid.UUID, comment string) (store.Rollout, error) {
	if comment == "" {
		return store.Rollout{}, apperr.New(apperr.CommentRequired, "rejection requires a non-empty comment")
	}
	return e.decideApproval(ctx, rolloutID, userID, false, comment, 0)
}

func (e *Engine) decideApproval(ctx context.Context, rolloutID, userID uuid.UUID, approved bool, comment string, approversNeeded int) (store.Rollout, error) {
	r, err := e.store.GetRollout(ctx, rolloutID)
	if err != nil {
		return store.Rollout{}, err
	}
	if r.CreatedByID == userID && approved {
		return store.Rollout{}, apperr.New(apperr.SelfApproval, "creator may not approve their own rollout")
	}

	existing, err := e.store.ListRolloutApprovals(ctx, rolloutID)
	if err != nil {
		return store.Rollout{}, fmt.Errorf("listing approvals: %w", err)
	}
	for _, a := range existing {
		if a.UserID == userID {
			return store.Rollout{}, apperr.New(apperr.AlreadyApproved, "user already recorded a decision on this rollout")
		}
	}

	if _, err := e.store.CreateRolloutApproval(ctx, store.RolloutApproval{
		RolloutID: rolloutID, UserID: userID, Comment: comment, Approved: approved,
	}); err != nil {
		return store.Rollout{}, fmt.Errorf("recording approval: %w", err)
	}

	if !approved {
		return e.store.UpdateRolloutApproval(ctx, rolloutID, store.ApprovalRejected)
	}

	approvals := 0
	for _, a := range existing {
		if a.Approved {
			approvals++
		}
	}
	approvals++ // this decision

	if approvals >= approversNeeded {
		return e.store.UpdateRolloutApproval(ctx, rolloutID, store.ApprovalApproved)
	}
	return r, nil
}
