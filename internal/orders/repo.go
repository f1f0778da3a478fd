package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
)

// Repository handles order persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Update(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByExternalPaymentID(ctx context.Context, externalID string) (*models.Order, error)
	List(ctx context.Context, params ListQuery) ([]models.Order, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	AttachExternalPaymentID(ctx context.Context, id uuid.UUID, externalID string) error
	// UpdateStatusIf moves the order to the target status only when it still
	// holds one of the expected statuses. Returns true when a row changed.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, expected []enums.OrderStatus, target enums.OrderStatus, fields map[string]any) (bool, error)
}

// ListQuery configures order list queries.
type ListQuery struct {
	UserID   *uuid.UUID
	Status   *enums.OrderStatus
	Provider *enums.PaymentProvider
	Limit    int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) Update(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByExternalPaymentID(ctx context.Context, externalID string) (*models.Order, error) {
	if externalID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("external_payment_id = ?", externalID).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Provider != nil {
		query = query.Where("provider = ?", *params.Provider)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var list []models.Order
	if err := query.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var list []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) AttachExternalPaymentID(ctx context.Context, id uuid.UUID, externalID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("external_payment_id", externalID).Error
}

func (r *repository) UpdateStatusIf(ctx context.Context, id uuid.UUID, expected []enums.OrderStatus, target enums.OrderStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": target}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN (?)", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
