package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursepass/coursepass-backend/pkg/enums"
)

// Subscription tracks a user's entitlement window for a plan.
//
// EndDate is authoritative for access: a row can still say active after the
// window has lapsed, and readers must treat it as expired. A nil EndDate
// means the subscription runs until the provider cancels it.
type Subscription struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID uuid.UUID `gorm:"column:plan_id;type:uuid;not null;index"`
	Plan   *Plan     `gorm:"foreignKey:PlanID"`

	Status enums.SubscriptionStatus `gorm:"column:status;not null;default:'pending'"`

	ExternalSubscriptionID *string               `gorm:"column:external_subscription_id;uniqueIndex"`
	Provider               enums.PaymentProvider `gorm:"column:provider;not null"`

	StartDate   time.Time  `gorm:"column:start_date;not null"`
	EndDate     *time.Time `gorm:"column:end_date"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

// BeforeCreate assigns an id when the database default is unavailable
// (the in-memory test database has no gen_random_uuid).
func (m *Subscription) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
