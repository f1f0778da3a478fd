package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/coursepass/coursepass-backend/pkg/db/models"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes subscription reads. Every lifecycle transition, including
// cancellation, flows through the reconciliation engine so the provider-side
// recurring profile is always handled first.
type Service struct {
	repo Repository
}

// NewService builds a subscription service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// Get returns one subscription or a not-found error.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// ListForUser returns the user's subscriptions, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	return s.repo.ListByUser(ctx, userID)
}
