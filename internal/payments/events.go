package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepass/coursepass-backend/pkg/enums"
)

// EventKind is the normalized tag of a provider webhook event. Providers map
// their raw event type strings onto these; anything unmapped becomes
// EventKindUnknown, which handlers acknowledge without touching state.
type EventKind string

const (
	EventKindSubscriptionCreated   EventKind = "subscription_created"
	EventKindSubscriptionActivated EventKind = "subscription_activated"
	EventKindSubscriptionCancelled EventKind = "subscription_cancelled"
	EventKindSubscriptionSuspended EventKind = "subscription_suspended"
	EventKindPaymentSucceeded      EventKind = "payment_succeeded"
	EventKindPaymentFailed         EventKind = "payment_failed"
	EventKindPaymentRefunded       EventKind = "payment_refunded"
	EventKindUnknown               EventKind = "unknown"
)

// EventMetadata carries the locally-meaningful identifiers a provider echoes
// back from checkout. Raw strings: missing or unparseable values are decided
// by the reconciliation engine, not the provider client.
type EventMetadata struct {
	UserID string
	PlanID string
}

// Event is a verified, parsed webhook notification.
type Event struct {
	Provider    enums.PaymentProvider
	Kind        EventKind
	RawType     string
	EventID     string
	ExternalRef string
	Metadata    EventMetadata
	Amount      *decimal.Decimal
	OccurredAt  time.Time
}

// DedupKey identifies an event for idempotent processing. Two deliveries of
// the same provider notification produce the same key. Activation events fold
// in the provider's delivery id: each renewal legitimately repeats
// (provider, ref, kind) for the same subscription, and only an exact
// redelivery may collapse onto an earlier one.
func (e *Event) DedupKey() string {
	key := string(e.Provider) + ":" + e.ExternalRef + ":" + string(e.Kind)
	if e.Kind == EventKindSubscriptionActivated && e.EventID != "" {
		key += ":" + e.EventID
	}
	return key
}
