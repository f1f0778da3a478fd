package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursepass/coursepass-backend/api/responses"
	"github.com/coursepass/coursepass-backend/api/validators"
	orderssvc "github.com/coursepass/coursepass-backend/internal/orders"
	planssvc "github.com/coursepass/coursepass-backend/internal/plans"
	"github.com/coursepass/coursepass-backend/internal/reconcile"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	pkgerrors "github.com/coursepass/coursepass-backend/pkg/errors"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

const maxAdminOrderPage = 500

type adminCreatePlanRequest struct {
	Name         string          `json:"name" validate:"required,max=120"`
	Description  string          `json:"description" validate:"max=2000"`
	PriceAmount  decimal.Decimal `json:"price_amount" validate:"required"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	DurationDays int             `json:"duration_days" validate:"gte=0"`
	Features     []string        `json:"features" validate:"max=50,dive,max=200"`
	IsDefault    bool            `json:"is_default"`
}

type adminUpdatePlanRequest struct {
	Name         *string          `json:"name,omitempty" validate:"omitempty,max=120"`
	Description  *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	Status       *string          `json:"status,omitempty" validate:"omitempty,oneof=active archived"`
	PriceAmount  *decimal.Decimal `json:"price_amount,omitempty"`
	Currency     *string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	DurationDays *int             `json:"duration_days,omitempty" validate:"omitempty,gte=0"`
	Features     []string         `json:"features,omitempty" validate:"omitempty,max=50,dive,max=200"`
	IsDefault    *bool            `json:"is_default,omitempty"`
}

// AdminListPlans returns every plan, archived included.
func AdminListPlans(svc *planssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}
		plans, err := svc.ListAll(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanListResponse(plans))
	}
}

// AdminCreatePlan stores a new purchasable plan.
func AdminCreatePlan(svc *planssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		var payload adminCreatePlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := svc.Create(r.Context(), planssvc.CreateInput{
			Name:         payload.Name,
			Description:  payload.Description,
			PriceAmount:  payload.PriceAmount,
			Currency:     enums.Currency(payload.Currency),
			DurationDays: payload.DurationDays,
			Features:     payload.Features,
			IsDefault:    payload.IsDefault,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlanResponse(plan))
	}
}

// AdminUpdatePlan applies a partial update. Changing the price or currency
// clears cached provider price references so the next checkout re-creates
// them.
func AdminUpdatePlan(svc *planssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		planID, err := uuid.Parse(chi.URLParam(r, "planID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan id"))
			return
		}

		var payload adminUpdatePlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := planssvc.UpdateInput{
			Name:         payload.Name,
			Description:  payload.Description,
			PriceAmount:  payload.PriceAmount,
			DurationDays: payload.DurationDays,
			Features:     payload.Features,
			IsDefault:    payload.IsDefault,
		}
		if payload.Status != nil {
			status := enums.PlanStatus(*payload.Status)
			input.Status = &status
		}
		if payload.Currency != nil {
			currency := enums.Currency(*payload.Currency)
			input.Currency = &currency
		}

		plan, err := svc.Update(r.Context(), planID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}

// AdminListOrders lists orders with optional status, provider and user filters.
func AdminListOrders(svc *orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, maxAdminOrderPage)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := orderssvc.ListQuery{Limit: limit}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, perr := enums.ParseOrderStatus(raw)
			if perr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, perr, "status filter"))
				return
			}
			query.Status = &status
		}
		if raw := r.URL.Query().Get("provider"); raw != "" {
			provider, perr := enums.ParsePaymentProvider(raw)
			if perr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, perr, "provider filter"))
				return
			}
			query.Provider = &provider
		}
		if raw := r.URL.Query().Get("user_id"); raw != "" {
			userID, perr := uuid.Parse(raw)
			if perr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid user_id filter"))
				return
			}
			query.UserID = &userID
		}

		orders, err := svc.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderListResponse(orders))
	}
}

// AdminCancelSubscription cancels any user's subscription.
func AdminCancelSubscription(engine *reconcile.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		subID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription id"))
			return
		}

		sub, err := engine.CancelSubscription(r.Context(), subID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}
