package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursepass/coursepass-backend/api/middleware"
	"github.com/coursepass/coursepass-backend/api/responses"
	"github.com/coursepass/coursepass-backend/api/validators"
	orderssvc "github.com/coursepass/coursepass-backend/internal/orders"
	"github.com/coursepass/coursepass-backend/internal/reconcile"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	pkgerrors "github.com/coursepass/coursepass-backend/pkg/errors"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

type checkoutRequest struct {
	PlanID        uuid.UUID `json:"plan_id" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"required,oneof=card wallet"`
}

type checkoutStartResponse struct {
	OrderID      uuid.UUID `json:"order_id"`
	ExternalID   string    `json:"external_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	ApprovalURL  string    `json:"approval_url,omitempty"`
}

type checkoutConfirmRequest struct {
	ExternalID    string `json:"external_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=card wallet"`
}

type orderResponse struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	PlanID            uuid.UUID       `json:"plan_id"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Provider          string          `json:"provider"`
	ExternalPaymentID *string         `json:"external_payment_id,omitempty"`
	SubscriptionID    *uuid.UUID      `json:"subscription_id,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	return orderResponse{
		ID:                order.ID,
		UserID:            order.UserID,
		PlanID:            order.PlanID,
		Status:            string(order.Status),
		Amount:            order.Amount,
		Currency:          string(order.Currency),
		Provider:          string(order.Provider),
		ExternalPaymentID: order.ExternalPaymentID,
		SubscriptionID:    order.SubscriptionID,
		FailureReason:     order.FailureReason,
		CompletedAt:       order.CompletedAt,
		CreatedAt:         order.CreatedAt,
	}
}

type subscriptionResponse struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 uuid.UUID  `json:"user_id"`
	PlanID                 uuid.UUID  `json:"plan_id"`
	Status                 string     `json:"status"`
	Provider               string     `json:"provider"`
	ExternalSubscriptionID *string    `json:"external_subscription_id,omitempty"`
	StartDate              time.Time  `json:"start_date"`
	EndDate                *time.Time `json:"end_date,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	if sub == nil {
		return subscriptionResponse{}
	}
	return subscriptionResponse{
		ID:                     sub.ID,
		UserID:                 sub.UserID,
		PlanID:                 sub.PlanID,
		Status:                 string(sub.Status),
		Provider:               string(sub.Provider),
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		StartDate:              sub.StartDate,
		EndDate:                sub.EndDate,
		CancelledAt:            sub.CancelledAt,
	}
}

type checkoutConfirmResponse struct {
	Pending      bool                  `json:"pending"`
	Order        orderResponse         `json:"order"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

// Checkout initiates a purchase of a plan for the authenticated user.
func Checkout(engine *reconcile.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout unavailable"))
			return
		}

		userID, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment method"))
			return
		}

		start, err := engine.StartCheckout(r.Context(), userID, payload.PlanID, method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutStartResponse{
			OrderID:      start.OrderID,
			ExternalID:   start.ExternalID,
			ClientSecret: start.ClientSecret,
			ApprovalURL:  start.ApprovalURL,
		})
	}
}

// CheckoutConfirm settles a previously started checkout. A provider timeout
// is not an error: the order stays pending and the response says so.
func CheckoutConfirm(engine *reconcile.Engine, orders *orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout unavailable"))
			return
		}

		userID, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutConfirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment method"))
			return
		}

		// ownership is checked before the engine touches the provider, so a
		// stranger can never trigger capture of someone else's order
		order, err := orders.GetByExternalPaymentID(r.Context(), payload.ExternalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if order.UserID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user"))
			return
		}

		result, err := engine.ConfirmCheckout(r.Context(), payload.ExternalID, method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := checkoutConfirmResponse{
			Pending: result.Pending,
			Order:   newOrderResponse(result.Order),
		}
		if result.Subscription != nil {
			sub := newSubscriptionResponse(result.Subscription)
			resp.Subscription = &sub
		}
		responses.WriteSuccess(w, resp)
	}
}

func authedUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return userID, nil
}
