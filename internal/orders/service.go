package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/coursepass/coursepass-backend/pkg/db/models"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

// ServiceParams groups dependencies for the order service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes order reads for API consumers; order writes flow through
// the checkout and reconciliation paths.
type Service struct {
	repo Repository
}

// NewService builds an order service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// Get returns one order or a not-found error.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "loading order")
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// GetByExternalPaymentID resolves the order a provider reference points at.
func (s *Service) GetByExternalPaymentID(ctx context.Context, externalID string) (*models.Order, error) {
	order, err := s.repo.FindByExternalPaymentID(ctx, externalID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "loading order")
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// List returns orders matching the query, newest first.
func (s *Service) List(ctx context.Context, params ListQuery) ([]models.Order, error) {
	return s.repo.List(ctx, params)
}

// ListForUser returns the caller's own orders.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	return s.repo.List(ctx, ListQuery{UserID: &userID})
}
