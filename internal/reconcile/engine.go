package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursepass/coursepass-backend/internal/orders"
	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/internal/plans"
	"github.com/coursepass/coursepass-backend/internal/subscriptions"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

// Outcome reports what applying an event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMalformed Outcome = "malformed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EngineParams groups dependencies for the reconciliation engine.
type EngineParams struct {
	OrderRepo         orders.Repository
	SubscriptionRepo  subscriptions.Repository
	PlanRepo          plans.Repository
	Providers         *payments.Registry
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Engine drives every Order and Subscription transition. UI code never
// mutates either table directly; the synchronous checkout path and the
// webhook path both funnel through here so status-guarded writes stay the
// single source of truth.
type Engine struct {
	orderRepo orders.Repository
	subRepo   subscriptions.Repository
	planRepo  plans.Repository
	providers *payments.Registry
	txRunner  txRunner
	logg      *logger.Logger
}

// NewEngine builds the reconciliation engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.OrderRepo == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "order repo required")
	}
	if params.SubscriptionRepo == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "subscription repo required")
	}
	if params.PlanRepo == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "plan repo required")
	}
	if params.Providers == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "provider registry required")
	}
	if params.TransactionRunner == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "transaction runner required")
	}
	return &Engine{
		orderRepo: params.OrderRepo,
		subRepo:   params.SubscriptionRepo,
		planRepo:  params.PlanRepo,
		providers: params.Providers,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
	}, nil
}

// ApplyEvent applies one verified provider event. Unknown kinds are
// acknowledged without state change; events missing required metadata for a
// record that must be created are acknowledged but reported as malformed so
// an operator can recover the stuck payment.
func (e *Engine) ApplyEvent(ctx context.Context, event *payments.Event) (Outcome, error) {
	if event == nil {
		return OutcomeIgnored, apperrors.New(apperrors.CodeValidation, "event is required")
	}
	if event.ExternalRef == "" && event.Kind != payments.EventKindUnknown {
		return e.malformed(ctx, event, "event missing external reference")
	}

	switch event.Kind {
	case payments.EventKindSubscriptionCreated:
		return e.applySubscriptionCreated(ctx, event)
	case payments.EventKindSubscriptionActivated:
		return e.applySubscriptionActivated(ctx, event)
	case payments.EventKindSubscriptionCancelled:
		return e.applySubscriptionEnded(ctx, event, enums.SubscriptionStatusCancelled)
	case payments.EventKindSubscriptionSuspended:
		return e.applySubscriptionEnded(ctx, event, enums.SubscriptionStatusSuspended)
	case payments.EventKindPaymentSucceeded:
		return e.applyPaymentSucceeded(ctx, event)
	case payments.EventKindPaymentFailed:
		return e.applyPaymentFailed(ctx, event)
	case payments.EventKindPaymentRefunded:
		return e.applyPaymentRefunded(ctx, event)
	default:
		if e.logg != nil {
			e.logg.Info(ctx, fmt.Sprintf("ignoring unhandled %s event %q", event.Provider, event.RawType))
		}
		return OutcomeIgnored, nil
	}
}

func (e *Engine) applySubscriptionCreated(ctx context.Context, event *payments.Event) (Outcome, error) {
	existing, err := e.subRepo.FindByExternalID(ctx, event.ExternalRef)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "lookup subscription")
	}
	if existing != nil {
		return OutcomeNoop, nil
	}

	userID, plan, outcome, err := e.resolveMetadata(ctx, event)
	if outcome != OutcomeApplied {
		return outcome, err
	}

	ref := event.ExternalRef
	sub := &models.Subscription{
		UserID:                 userID,
		PlanID:                 plan.ID,
		Status:                 enums.SubscriptionStatusPending,
		ExternalSubscriptionID: &ref,
		Provider:               event.Provider,
		StartDate:              time.Now().UTC(),
	}
	if err := e.subRepo.Create(ctx, sub); err != nil {
		// A concurrent delivery may have won the unique-index race.
		if existing, lookupErr := e.subRepo.FindByExternalID(ctx, event.ExternalRef); lookupErr == nil && existing != nil {
			return OutcomeNoop, nil
		}
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "create subscription")
	}
	return OutcomeApplied, nil
}

func (e *Engine) applySubscriptionActivated(ctx context.Context, event *payments.Event) (Outcome, error) {
	sub, err := e.subRepo.FindByExternalID(ctx, event.ExternalRef)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "lookup subscription")
	}

	if sub == nil {
		// Activation raced ahead of the create event; build the record from
		// metadata so the grant is not lost.
		userID, plan, outcome, mErr := e.resolveMetadata(ctx, event)
		if outcome != OutcomeApplied {
			return outcome, mErr
		}
		now := time.Now().UTC()
		ref := event.ExternalRef
		sub = &models.Subscription{
			UserID:                 userID,
			PlanID:                 plan.ID,
			Status:                 enums.SubscriptionStatusActive,
			ExternalSubscriptionID: &ref,
			Provider:               event.Provider,
			StartDate:              now,
			EndDate:                endDateFor(plan, now),
		}
		if err := e.subRepo.Create(ctx, sub); err != nil {
			if existing, lookupErr := e.subRepo.FindByExternalID(ctx, event.ExternalRef); lookupErr == nil && existing != nil {
				return e.activateExisting(ctx, existing)
			}
			return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "create subscription")
		}
		return OutcomeApplied, nil
	}

	return e.activateExisting(ctx, sub)
}

func (e *Engine) activateExisting(ctx context.Context, sub *models.Subscription) (Outcome, error) {
	now := time.Now().UTC()
	plan, err := e.planRepo.FindByID(ctx, sub.PlanID)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return OutcomeNoop, apperrors.New(apperrors.CodeNotFound, "plan not found for subscription")
	}

	if sub.Status == enums.SubscriptionStatusActive {
		// Renewal: extend from the current window's end, or from now if the
		// window already lapsed.
		if plan.DurationDays <= 0 {
			return OutcomeNoop, nil
		}
		base := now
		if sub.EndDate != nil && sub.EndDate.After(now) {
			base = *sub.EndDate
		}
		newEnd := base.AddDate(0, 0, plan.DurationDays)
		changed, err := e.subRepo.ExtendActive(ctx, sub.ID, newEnd)
		if err != nil {
			return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "extend subscription")
		}
		if !changed {
			return OutcomeNoop, nil
		}
		return OutcomeApplied, nil
	}

	fields := map[string]any{"start_date": now}
	if end := endDateFor(plan, now); end != nil {
		fields["end_date"] = *end
	}
	changed, err := e.subRepo.UpdateStatusIf(ctx, sub.ID,
		[]enums.SubscriptionStatus{enums.SubscriptionStatusPending, enums.SubscriptionStatusSuspended},
		enums.SubscriptionStatusActive, fields)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "activate subscription")
	}
	if !changed {
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}

func (e *Engine) applySubscriptionEnded(ctx context.Context, event *payments.Event, target enums.SubscriptionStatus) (Outcome, error) {
	sub, err := e.subRepo.FindByExternalID(ctx, event.ExternalRef)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "lookup subscription")
	}
	if sub == nil {
		if e.logg != nil {
			e.logg.Warn(ctx, fmt.Sprintf("%s event for unknown subscription %s", event.Kind, event.ExternalRef))
		}
		return OutcomeNoop, nil
	}
	if sub.Status == target {
		return OutcomeNoop, nil
	}

	now := time.Now().UTC()
	expected := []enums.SubscriptionStatus{
		enums.SubscriptionStatusPending,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusSuspended,
	}
	fields := map[string]any{}
	if target == enums.SubscriptionStatusCancelled {
		fields["cancelled_at"] = now
		fields["end_date"] = now
	} else {
		// Suspension only pauses pending/active grants.
		expected = []enums.SubscriptionStatus{
			enums.SubscriptionStatusPending,
			enums.SubscriptionStatusActive,
		}
	}

	changed, err := e.subRepo.UpdateStatusIf(ctx, sub.ID, expected, target, fields)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "update subscription status")
	}
	if !changed {
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}

func (e *Engine) applyPaymentSucceeded(ctx context.Context, event *payments.Event) (Outcome, error) {
	order, err := e.orderRepo.FindByExternalPaymentID(ctx, event.ExternalRef)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "lookup order")
	}

	if order == nil {
		// The webhook beat the synchronous confirmation (or replaced it
		// entirely). Build the order from event metadata.
		userID, plan, outcome, mErr := e.resolveMetadata(ctx, event)
		if outcome != OutcomeApplied {
			return outcome, mErr
		}
		ref := event.ExternalRef
		amount := plan.PriceAmount
		if event.Amount != nil {
			amount = *event.Amount
		}
		order = &models.Order{
			UserID:            userID,
			PlanID:            plan.ID,
			Status:            enums.OrderStatusPending,
			Amount:            amount,
			Currency:          plan.Currency,
			Provider:          event.Provider,
			ExternalPaymentID: &ref,
		}
		if err := e.orderRepo.Create(ctx, order); err != nil {
			if existing, lookupErr := e.orderRepo.FindByExternalPaymentID(ctx, event.ExternalRef); lookupErr == nil && existing != nil {
				order = existing
			} else {
				return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "create order")
			}
		}
	}

	if order.Status == enums.OrderStatusCompleted {
		return OutcomeNoop, nil
	}

	if err := e.completeOrder(ctx, order); err != nil {
		return OutcomeNoop, err
	}
	return OutcomeApplied, nil
}

func (e *Engine) applyPaymentFailed(ctx context.Context, event *payments.Event) (Outcome, error) {
	order, err := e.orderRepo.FindByExternalPaymentID(ctx, event.ExternalRef)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "lookup order")
	}

	if order == nil {
		userID, plan, outcome, mErr := e.resolveMetadata(ctx, event)
		if outcome != OutcomeApplied {
			return outcome, mErr
		}
		ref := event.ExternalRef
		reason := event.RawType
		order = &models.Order{
			UserID:            userID,
			PlanID:            plan.ID,
			Status:            enums.OrderStatusFailed,
			Amount:            plan.PriceAmount,
			Currency:          plan.Currency,
			Provider:          event.Provider,
			ExternalPaymentID: &ref,
			FailureReason:     &reason,
		}
		if err := e.orderRepo.Create(ctx, order); err != nil {
			if existing, lookupErr := e.orderRepo.FindByExternalPaymentID(ctx, event.ExternalRef); lookupErr == nil && existing != nil {
				order = existing
			} else {
				return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "create order")
			}
		} else {
			return OutcomeApplied, nil
		}
	}

	// Sticky success: only a pending order can fail. A completed order is
	// never downgraded by a late failure notification.
	changed, err := e.orderRepo.UpdateStatusIf(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusPending},
		enums.OrderStatusFailed,
		map[string]any{"failure_reason": event.RawType},
	)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "fail order")
	}
	if !changed {
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}

func (e *Engine) applyPaymentRefunded(ctx context.Context, event *payments.Event) (Outcome, error) {
	order, err := e.orderRepo.FindByExternalPaymentID(ctx, event.ExternalRef)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "lookup order")
	}
	if order == nil {
		if e.logg != nil {
			e.logg.Warn(ctx, fmt.Sprintf("refund event for unknown payment %s", event.ExternalRef))
		}
		return OutcomeNoop, nil
	}

	changed, err := e.orderRepo.UpdateStatusIf(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusCompleted},
		enums.OrderStatusRefunded, nil)
	if err != nil {
		return OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "refund order")
	}
	if !changed {
		return OutcomeNoop, nil
	}

	// A refunded purchase revokes its grant.
	if order.SubscriptionID != nil {
		now := time.Now().UTC()
		if _, err := e.subRepo.UpdateStatusIf(ctx, *order.SubscriptionID,
			[]enums.SubscriptionStatus{enums.SubscriptionStatusPending, enums.SubscriptionStatusActive, enums.SubscriptionStatusSuspended},
			enums.SubscriptionStatusCancelled,
			map[string]any{"cancelled_at": now, "end_date": now},
		); err != nil {
			return OutcomeApplied, apperrors.Wrap(apperrors.CodeDependency, err, "cancel refunded subscription")
		}
	}
	return OutcomeApplied, nil
}

// completeOrder flips a pending order to completed and grants its
// subscription in one transaction. Safe to call concurrently: the status
// guard makes exactly one caller the granter.
func (e *Engine) completeOrder(ctx context.Context, order *models.Order) error {
	return e.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := e.orderRepo.WithTx(tx)
		subRepo := e.subRepo.WithTx(tx)
		planRepo := e.planRepo.WithTx(tx)

		now := time.Now().UTC()
		changed, err := orderRepo.UpdateStatusIf(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPending},
			enums.OrderStatusCompleted,
			map[string]any{"completed_at": now},
		)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDependency, err, "complete order")
		}
		if !changed {
			return nil
		}

		if order.SubscriptionID != nil {
			return nil
		}

		plan, err := planRepo.FindByID(ctx, order.PlanID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDependency, err, "load plan")
		}
		if plan == nil {
			return apperrors.New(apperrors.CodeNotFound, "plan not found for order")
		}

		sub := &models.Subscription{
			UserID:    order.UserID,
			PlanID:    order.PlanID,
			Status:    enums.SubscriptionStatusActive,
			Provider:  order.Provider,
			StartDate: now,
			EndDate:   endDateFor(plan, now),
		}
		if order.ExternalPaymentID != nil {
			// One-shot charges reuse the payment reference so later
			// provider events can find the grant.
			sub.ExternalSubscriptionID = order.ExternalPaymentID
		}
		if err := subRepo.Create(ctx, sub); err != nil {
			return apperrors.Wrap(apperrors.CodeDependency, err, "create subscription")
		}

		order.Status = enums.OrderStatusCompleted
		order.SubscriptionID = &sub.ID
		order.CompletedAt = &now
		if err := orderRepo.Update(ctx, order); err != nil {
			return apperrors.Wrap(apperrors.CodeDependency, err, "link order to subscription")
		}
		return nil
	})
}

// resolveMetadata parses the subject and plan ids an event must carry when a
// missing local record has to be created. Missing or unparseable metadata is
// unrecoverable: the payment cannot be granted to anyone.
func (e *Engine) resolveMetadata(ctx context.Context, event *payments.Event) (uuid.UUID, *models.Plan, Outcome, error) {
	userID, err := uuid.Parse(event.Metadata.UserID)
	if err != nil {
		outcome, aErr := e.malformed(ctx, event, "event metadata missing user id")
		return uuid.Nil, nil, outcome, aErr
	}
	planID, err := uuid.Parse(event.Metadata.PlanID)
	if err != nil {
		outcome, aErr := e.malformed(ctx, event, "event metadata missing plan id")
		return uuid.Nil, nil, outcome, aErr
	}

	plan, err := e.planRepo.FindByID(ctx, planID)
	if err != nil {
		return uuid.Nil, nil, OutcomeNoop, apperrors.Wrap(apperrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		outcome, aErr := e.malformed(ctx, event, "event references unknown plan")
		return uuid.Nil, nil, outcome, aErr
	}
	return userID, plan, OutcomeApplied, nil
}

// malformed records an operator-visible alert for an event that is
// acknowledged to the provider but cannot be applied.
func (e *Engine) malformed(ctx context.Context, event *payments.Event, reason string) (Outcome, error) {
	if e.logg != nil {
		ctx = e.logg.WithFields(ctx, map[string]any{
			"provider":     event.Provider.String(),
			"event_type":   event.RawType,
			"external_ref": event.ExternalRef,
		})
		e.logg.Error(ctx, "malformed webhook event: "+reason, nil)
	}
	return OutcomeMalformed, nil
}

func endDateFor(plan *models.Plan, start time.Time) *time.Time {
	if plan == nil || plan.DurationDays <= 0 {
		return nil
	}
	end := start.AddDate(0, 0, plan.DurationDays)
	return &end
}
