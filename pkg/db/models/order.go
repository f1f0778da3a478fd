package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coursepass/coursepass-backend/pkg/enums"
)

// Order records a single payment attempt for a plan.
//
// ExternalPaymentID is the provider-side reference (Stripe PaymentIntent id,
// PayPal capture/sale id). It is the join key webhooks reconcile against, so
// it carries a unique index; it stays nil until the provider assigns one.
type Order struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID   uuid.UUID `gorm:"column:plan_id;type:uuid;not null;index"`
	Plan     *Plan     `gorm:"foreignKey:PlanID"`

	Status   enums.OrderStatus     `gorm:"column:status;not null;default:'pending'"`
	Amount   decimal.Decimal       `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency enums.Currency        `gorm:"column:currency;not null"`
	Provider enums.PaymentProvider `gorm:"column:provider;not null"`

	ExternalPaymentID *string    `gorm:"column:external_payment_id;uniqueIndex"`
	SubscriptionID    *uuid.UUID `gorm:"column:subscription_id;type:uuid"`
	FailureReason     *string    `gorm:"column:failure_reason"`

	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// BeforeCreate assigns an id when the database default is unavailable
// (the in-memory test database has no gen_random_uuid).
func (m *Order) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
