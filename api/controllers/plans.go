package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursepass/coursepass-backend/api/responses"
	planssvc "github.com/coursepass/coursepass-backend/internal/plans"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	pkgerrors "github.com/coursepass/coursepass-backend/pkg/errors"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

type planResponse struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Status       string          `json:"status"`
	PriceAmount  decimal.Decimal `json:"price_amount"`
	Currency     string          `json:"currency"`
	DurationDays int             `json:"duration_days"`
	Features     []string        `json:"features"`
	IsDefault    bool            `json:"is_default"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newPlanResponse(plan *models.Plan) planResponse {
	if plan == nil {
		return planResponse{}
	}
	features := make([]string, 0, len(plan.Features))
	features = append(features, plan.Features...)
	return planResponse{
		ID:           plan.ID,
		Name:         plan.Name,
		Description:  plan.Description,
		Status:       string(plan.Status),
		PriceAmount:  plan.PriceAmount,
		Currency:     string(plan.Currency),
		DurationDays: plan.DurationDays,
		Features:     features,
		IsDefault:    plan.IsDefault,
		CreatedAt:    plan.CreatedAt,
	}
}

func newPlanListResponse(plans []models.Plan) []planResponse {
	out := make([]planResponse, 0, len(plans))
	for i := range plans {
		out = append(out, newPlanResponse(&plans[i]))
	}
	return out
}

// ListPlans returns the purchasable plans.
func ListPlans(svc *planssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}
		plans, err := svc.ListActive(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanListResponse(plans))
	}
}

// GetPlan returns one plan by id.
func GetPlan(svc *planssvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		plan, err := svc.Get(r.Context(), planID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}
