package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coursepass/coursepass-backend/internal/subscriptions"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

// Gate reports whether a resource sits behind the subscription wall. Gating
// is binary: one grant unlocks every gated resource.
type Gate interface {
	IsGated(resourceID string) bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(resourceID string) bool

func (f GateFunc) IsGated(resourceID string) bool { return f(resourceID) }

// Evaluator answers the read-side access question.
//
// Expiry is computed here at read time. A row can still carry status=active
// after its window lapsed (the sweep job trails behind); the end-date check
// is what actually revokes access.
type Evaluator struct {
	repo subscriptions.Repository
	gate Gate
	now  func() time.Time
}

// EvaluatorParams groups dependencies for the evaluator.
type EvaluatorParams struct {
	Repo subscriptions.Repository
	// Gate decides which resources require a grant. When nil, every
	// resource is gated; this service only fronts protected content.
	Gate Gate
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewEvaluator builds an access evaluator.
func NewEvaluator(params EvaluatorParams) (*Evaluator, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	gate := params.Gate
	if gate == nil {
		gate = GateFunc(func(string) bool { return true })
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{repo: params.Repo, gate: gate, now: now}, nil
}

// HasAccess reports whether the subject may view the resource. Non-gated
// resources are open to everyone. For gated resources an anonymous subject
// or a storage error denies access; failing open on an outage would hand
// out free access.
func (e *Evaluator) HasAccess(ctx context.Context, userID uuid.UUID, resourceID string) (bool, error) {
	if !e.gate.IsGated(resourceID) {
		return true, nil
	}
	if userID == uuid.Nil {
		return false, nil
	}

	sub, err := e.repo.FindCurrentForUser(ctx, userID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeDependency, err, "query subscriptions")
	}
	if sub == nil {
		return false, nil
	}
	if !sub.Status.GrantsAccess() {
		return false, nil
	}
	if sub.EndDate != nil && !sub.EndDate.After(e.now()) {
		return false, nil
	}
	return true, nil
}
