package plans

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

// ServiceParams groups dependencies for the plan service.
type ServiceParams struct {
	Repo Repository
}

// Service orchestrates plan catalog operations.
type Service struct {
	repo Repository
}

// NewService builds a plan service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// CreateInput carries the admin-supplied fields for a new plan.
type CreateInput struct {
	Name         string
	Description  string
	PriceAmount  decimal.Decimal
	Currency     enums.Currency
	DurationDays int
	Features     []string
	IsDefault    bool
}

// UpdateInput carries the mutable fields of an existing plan. Nil pointers
// leave the field untouched.
type UpdateInput struct {
	Name         *string
	Description  *string
	Status       *enums.PlanStatus
	PriceAmount  *decimal.Decimal
	Currency     *enums.Currency
	DurationDays *int
	Features     []string
	IsDefault    *bool
}

// Create validates and stores a new plan.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Plan, error) {
	if input.Name == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "plan name is required")
	}
	if input.PriceAmount.IsNegative() {
		return nil, apperrors.New(apperrors.CodeValidation, "plan price must not be negative")
	}
	// zero duration means an unlimited, open-ended grant
	if input.DurationDays < 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "plan duration must not be negative")
	}
	if !input.Currency.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, "unsupported currency")
	}

	plan := &models.Plan{
		Name:         input.Name,
		Description:  input.Description,
		Status:       enums.PlanStatusActive,
		PriceAmount:  input.PriceAmount,
		Currency:     input.Currency,
		DurationDays: input.DurationDays,
		Features:     pq.StringArray(input.Features),
		IsDefault:    input.IsDefault,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "creating plan")
	}
	return plan, nil
}

// Update applies the provided changes. Changing the price or currency clears
// any cached provider price references so the next checkout re-creates them.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Plan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "plan not found")
	}

	priceChanged := false
	if input.PriceAmount != nil && !plan.PriceAmount.Equal(*input.PriceAmount) {
		if input.PriceAmount.IsNegative() {
			return nil, apperrors.New(apperrors.CodeValidation, "plan price must not be negative")
		}
		plan.PriceAmount = *input.PriceAmount
		priceChanged = true
	}
	if input.Currency != nil && plan.Currency != *input.Currency {
		if !input.Currency.IsValid() {
			return nil, apperrors.New(apperrors.CodeValidation, "unsupported currency")
		}
		plan.Currency = *input.Currency
		priceChanged = true
	}
	if input.Name != nil {
		if *input.Name == "" {
			return nil, apperrors.New(apperrors.CodeValidation, "plan name is required")
		}
		plan.Name = *input.Name
	}
	if input.Description != nil {
		plan.Description = *input.Description
	}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, apperrors.New(apperrors.CodeValidation, "invalid plan status")
		}
		plan.Status = *input.Status
	}
	if input.DurationDays != nil {
		if *input.DurationDays < 0 {
			return nil, apperrors.New(apperrors.CodeValidation, "plan duration must not be negative")
		}
		plan.DurationDays = *input.DurationDays
	}
	if input.Features != nil {
		plan.Features = pq.StringArray(input.Features)
	}
	if input.IsDefault != nil {
		plan.IsDefault = *input.IsDefault
	}

	if priceChanged {
		plan.StripePriceID = nil
		plan.PayPalPlanID = nil
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "updating plan")
	}
	return plan, nil
}

// ListActive returns the purchasable catalog.
func (s *Service) ListActive(ctx context.Context) ([]models.Plan, error) {
	status := enums.PlanStatusActive
	return s.repo.List(ctx, ListQuery{Status: &status})
}

// ListAll returns every plan regardless of status.
func (s *Service) ListAll(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx, ListQuery{})
}

// Get returns one plan or a not-found error.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

// GetDefault returns the default plan when one is configured.
func (s *Service) GetDefault(ctx context.Context) (*models.Plan, error) {
	return s.repo.FindDefault(ctx)
}
