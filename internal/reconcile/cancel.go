package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

// CancelSubscription stops renewals for a subscription. The provider is told
// first so a renewal charge cannot land after the local record flips; the
// local cancel still proceeds when the provider already considers the
// agreement cancelled.
func (e *Engine) CancelSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := e.subRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "subscription not found")
	}

	switch sub.Status {
	case enums.SubscriptionStatusPending, enums.SubscriptionStatusActive, enums.SubscriptionStatusSuspended:
	default:
		return nil, apperrors.New(apperrors.CodeStateConflict, "subscription is not cancellable")
	}

	if sub.ExternalSubscriptionID != nil && *sub.ExternalSubscriptionID != "" {
		provider, perr := e.providers.ForName(sub.Provider)
		if perr == nil {
			if _, cerr := provider.CancelRecurring(ctx, *sub.ExternalSubscriptionID); cerr != nil {
				return nil, cerr
			}
		}
	}

	now := time.Now().UTC()
	updated, err := e.subRepo.UpdateStatusIf(ctx, sub.ID,
		[]enums.SubscriptionStatus{enums.SubscriptionStatusPending, enums.SubscriptionStatusActive, enums.SubscriptionStatusSuspended},
		enums.SubscriptionStatusCancelled,
		map[string]any{"cancelled_at": now},
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "cancel subscription")
	}
	if !updated {
		// A webhook settled the record first; report the stored state.
		if sub, err = e.subRepo.FindByID(ctx, sub.ID); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDependency, err, "reload subscription")
		}
		return sub, nil
	}

	return e.subRepo.FindByID(ctx, sub.ID)
}
