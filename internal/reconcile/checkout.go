package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

// CheckoutStart is the synchronous checkout initiation result handed back to
// the client.
type CheckoutStart struct {
	OrderID      uuid.UUID
	ExternalID   string
	ClientSecret string
	ApprovalURL  string
}

// CheckoutResult reports the synchronous confirmation outcome.
type CheckoutResult struct {
	Order        *models.Order
	Subscription *models.Subscription
	// Pending reports that the provider call did not resolve in time; the
	// order stays pending and a webhook (or status poll) settles it.
	Pending bool
}

// StartCheckout creates a pending order with the plan price frozen and asks
// the provider for a charge handle.
func (e *Engine) StartCheckout(ctx context.Context, userID, planID uuid.UUID, method enums.PaymentMethod) (*CheckoutStart, error) {
	plan, err := e.planRepo.FindByID(ctx, planID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "load plan")
	}
	if plan == nil || plan.Status != enums.PlanStatusActive {
		return nil, apperrors.New(apperrors.CodeNotFound, "plan not found")
	}

	provider, err := e.providers.ForMethod(method)
	if err != nil {
		return nil, err
	}

	handle, err := provider.CreateCharge(ctx, plan, userID.String())
	if err != nil {
		return nil, err
	}

	ref := handle.ExternalID
	order := &models.Order{
		UserID:            userID,
		PlanID:            plan.ID,
		Status:            enums.OrderStatusPending,
		Amount:            plan.PriceAmount,
		Currency:          plan.Currency,
		Provider:          provider.Name(),
		ExternalPaymentID: &ref,
	}
	if err := e.orderRepo.Create(ctx, order); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "create order")
	}

	return &CheckoutStart{
		OrderID:      order.ID,
		ExternalID:   handle.ExternalID,
		ClientSecret: handle.ClientSecret,
		ApprovalURL:  handle.ApprovalURL,
	}, nil
}

// ConfirmCheckout captures the charge and settles the order synchronously.
// A provider timeout leaves the order pending: the payment may still have
// succeeded provider-side, and the webhook path is the authoritative
// resolver. Re-invoking for an already-completed order is a no-op success.
func (e *Engine) ConfirmCheckout(ctx context.Context, externalID string, method enums.PaymentMethod) (*CheckoutResult, error) {
	if externalID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "external id is required")
	}

	order, err := e.orderRepo.FindByExternalPaymentID(ctx, externalID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "lookup order")
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}

	if order.Status == enums.OrderStatusCompleted {
		return e.checkoutResult(ctx, order, false)
	}
	if order.Status != enums.OrderStatusPending {
		return nil, apperrors.New(apperrors.CodeStateConflict, "order is not pending")
	}

	provider, err := e.providers.ForMethod(method)
	if err != nil {
		return nil, err
	}

	capture, err := provider.CaptureCharge(ctx, externalID)
	if err != nil {
		if pe := payments.AsProviderError(err); pe != nil && pe.Kind == payments.ErrorKindTimeout {
			// Never fail the order on our own timeout.
			return &CheckoutResult{Order: order, Pending: true}, nil
		}
		return nil, err
	}

	if !capture.Succeeded {
		reason := "capture declined"
		if _, err := e.orderRepo.UpdateStatusIf(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPending},
			enums.OrderStatusFailed,
			map[string]any{"failure_reason": reason},
		); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDependency, err, "fail order")
		}
		return nil, apperrors.New(apperrors.CodePaymentRejected, "payment was not completed")
	}

	if capture.ExternalTransactionID != "" && capture.ExternalTransactionID != externalID {
		// Keep the provider transaction id as the canonical join key unless
		// another order already claimed it.
		if existing, lookupErr := e.orderRepo.FindByExternalPaymentID(ctx, capture.ExternalTransactionID); lookupErr == nil && existing == nil {
			if err := e.orderRepo.AttachExternalPaymentID(ctx, order.ID, capture.ExternalTransactionID); err == nil {
				tx := capture.ExternalTransactionID
				order.ExternalPaymentID = &tx
			}
		}
	}

	if err := e.completeOrder(ctx, order); err != nil {
		return nil, err
	}
	return e.checkoutResult(ctx, order, false)
}

func (e *Engine) checkoutResult(ctx context.Context, order *models.Order, pending bool) (*CheckoutResult, error) {
	fresh, err := e.orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDependency, err, "reload order")
	}
	if fresh == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}

	result := &CheckoutResult{Order: fresh, Pending: pending}
	if fresh.SubscriptionID != nil {
		sub, err := e.subRepo.FindByID(ctx, *fresh.SubscriptionID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDependency, err, "load subscription")
		}
		result.Subscription = sub
	}
	return result, nil
}
