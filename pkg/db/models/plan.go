package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coursepass/coursepass-backend/pkg/enums"
)

// Plan captures the local metadata for a purchasable subscription plan.
//
// Provider price references (StripePriceID, PayPalPlanID) are lazily created
// the first time a checkout needs them and cleared whenever the price or
// currency changes, so the next checkout re-creates them at the new price.
type Plan struct {
	ID           uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string           `gorm:"column:name;not null"`
	Description  string           `gorm:"column:description"`
	Status       enums.PlanStatus `gorm:"column:status;not null;default:'active'"`
	PriceAmount  decimal.Decimal  `gorm:"column:price_amount;type:numeric(10,2);not null"`
	Currency     enums.Currency   `gorm:"column:currency;not null;default:'USD'"`
	DurationDays int              `gorm:"column:duration_days;not null"`
	Features     pq.StringArray   `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	IsDefault    bool             `gorm:"column:is_default;not null;default:false"`

	StripePriceID *string `gorm:"column:stripe_price_id"`
	PayPalPlanID  *string `gorm:"column:paypal_plan_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Plan) TableName() string { return "plans" }

// BeforeCreate assigns an id when the database default is unavailable
// (the in-memory test database has no gen_random_uuid).
func (m *Plan) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
