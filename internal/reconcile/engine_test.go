package reconcile

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/coursepass/coursepass-backend/internal/orders"
	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/internal/plans"
	"github.com/coursepass/coursepass-backend/internal/subscriptions"
	"github.com/coursepass/coursepass-backend/pkg/db"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
)

const reconcileSchema = `
CREATE TABLE IF NOT EXISTS plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  price_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  duration_days INTEGER NOT NULL,
  features TEXT,
  is_default INTEGER NOT NULL DEFAULT 0,
  stripe_price_id TEXT,
  paypal_plan_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  provider TEXT NOT NULL,
  external_payment_id TEXT UNIQUE,
  subscription_id TEXT,
  failure_reason TEXT,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  external_subscription_id TEXT UNIQUE,
  provider TEXT NOT NULL,
  start_date DATETIME NOT NULL,
  end_date DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

// fakeProvider is a scriptable payments.Provider for engine tests.
type fakeProvider struct {
	name enums.PaymentProvider

	chargeHandle *payments.ChargeHandle
	chargeErr    error

	captureResult *payments.CaptureResult
	captureErr    error
	captureCalls  int

	cancelCalls  int
	cancelledIDs []string
	cancelErr    error
}

func (f *fakeProvider) Name() enums.PaymentProvider { return f.name }

func (f *fakeProvider) CreateCharge(ctx context.Context, plan *models.Plan, userID string) (*payments.ChargeHandle, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	if f.chargeHandle != nil {
		return f.chargeHandle, nil
	}
	return &payments.ChargeHandle{ExternalID: "pi_" + uuid.NewString(), ClientSecret: "secret"}, nil
}

func (f *fakeProvider) CaptureCharge(ctx context.Context, externalID string) (*payments.CaptureResult, error) {
	f.captureCalls++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	if f.captureResult != nil {
		return f.captureResult, nil
	}
	return &payments.CaptureResult{Succeeded: true}, nil
}

func (f *fakeProvider) VerifyWebhook(payload []byte, headers http.Header) (*payments.Event, error) {
	return nil, nil
}

func (f *fakeProvider) CancelRecurring(ctx context.Context, externalSubscriptionID string) (bool, error) {
	f.cancelCalls++
	f.cancelledIDs = append(f.cancelledIDs, externalSubscriptionID)
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	return true, nil
}

type engineHarness struct {
	engine *Engine
	orders orders.Repository
	subs   subscriptions.Repository
	plans  plans.Repository
	stripe *fakeProvider
	paypal *fakeProvider
	plan   *models.Plan
	userID uuid.UUID
}

func setupEngineTest(t *testing.T) *engineHarness {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(reconcileSchema).Error)

	orderRepo := orders.NewRepository(conn)
	subRepo := subscriptions.NewRepository(conn)
	planRepo := plans.NewRepository(conn)

	stripe := &fakeProvider{name: enums.PaymentProviderStripe}
	paypal := &fakeProvider{name: enums.PaymentProviderPayPal}

	engine, err := NewEngine(EngineParams{
		OrderRepo:         orderRepo,
		SubscriptionRepo:  subRepo,
		PlanRepo:          planRepo,
		Providers:         payments.NewRegistry(stripe, paypal),
		TransactionRunner: db.FromGorm(conn),
	})
	require.NoError(t, err)

	plan := &models.Plan{
		ID:           uuid.New(),
		Name:         "Monthly Access",
		Status:       enums.PlanStatusActive,
		PriceAmount:  decimal.RequireFromString("29.99"),
		Currency:     enums.CurrencyUSD,
		DurationDays: 30,
	}
	require.NoError(t, planRepo.Create(context.Background(), plan))

	return &engineHarness{
		engine: engine,
		orders: orderRepo,
		subs:   subRepo,
		plans:  planRepo,
		stripe: stripe,
		paypal: paypal,
		plan:   plan,
		userID: uuid.New(),
	}
}

func (h *engineHarness) event(kind payments.EventKind, ref string) *payments.Event {
	return &payments.Event{
		Provider:    enums.PaymentProviderStripe,
		Kind:        kind,
		RawType:     string(kind),
		EventID:     "evt_" + uuid.NewString(),
		ExternalRef: ref,
		Metadata: payments.EventMetadata{
			UserID: h.userID.String(),
			PlanID: h.plan.ID.String(),
		},
		OccurredAt: time.Now().UTC(),
	}
}

func (h *engineHarness) seedPendingOrder(t *testing.T, ref string) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:                uuid.New(),
		UserID:            h.userID,
		PlanID:            h.plan.ID,
		Status:            enums.OrderStatusPending,
		Amount:            h.plan.PriceAmount,
		Currency:          h.plan.Currency,
		Provider:          enums.PaymentProviderStripe,
		ExternalPaymentID: &ref,
	}
	require.NoError(t, h.orders.Create(context.Background(), order))
	return order
}

func TestApplyPaymentSucceededCompletesOrderAndGrants(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)
	h.seedPendingOrder(t, "pi_123")

	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentSucceeded, "pi_123"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	order, err := h.orders.FindByExternalPaymentID(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)
	require.NotNil(t, order.SubscriptionID)

	sub, err := h.subs.FindByID(ctx, *order.SubscriptionID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), *sub.EndDate, time.Minute)
}

func TestApplyPaymentSucceededIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)
	h.seedPendingOrder(t, "pi_123")

	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentSucceeded, "pi_123"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentSucceeded, "pi_123"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	subs, err := h.subs.ListByUser(ctx, h.userID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestApplyPaymentSucceededCreatesMissingOrder(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	// no local order: the webhook alone settles the purchase
	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentSucceeded, "pi_ghost"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	order, err := h.orders.FindByExternalPaymentID(ctx, "pi_ghost")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.Equal(t, h.userID, order.UserID)
	require.NotNil(t, order.SubscriptionID)
}

func TestApplyPaymentFailedAfterCompletedIsSticky(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)
	h.seedPendingOrder(t, "pi_123")

	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentSucceeded, "pi_123"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentFailed, "pi_123"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	order, err := h.orders.FindByExternalPaymentID(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.Nil(t, order.FailureReason)
}

func TestApplyPaymentFailedMarksPendingOrder(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)
	h.seedPendingOrder(t, "pi_123")

	event := h.event(payments.EventKindPaymentFailed, "pi_123")
	event.RawType = "payment_intent.payment_failed"
	outcome, err := h.engine.ApplyEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	order, err := h.orders.FindByExternalPaymentID(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Equal(t, "payment_intent.payment_failed", *order.FailureReason)
}

func TestApplyPaymentRefundedRevokesGrant(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)
	h.seedPendingOrder(t, "pi_123")

	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentSucceeded, "pi_123"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindPaymentRefunded, "pi_123"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	order, err := h.orders.FindByExternalPaymentID(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, order.Status)

	require.NotNil(t, order.SubscriptionID)
	sub, err := h.subs.FindByID(ctx, *order.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
}

func TestApplySubscriptionEventsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	// activation delivered before creation: the grant must not be lost
	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionActivated, "sub_77"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	sub, err := h.subs.FindByExternalID(ctx, "sub_77")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.EndDate)

	// the late create converges to a no-op instead of a duplicate row
	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionCreated, "sub_77"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	subs, err := h.subs.ListByUser(ctx, h.userID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestApplySubscriptionActivatedRenewalExtendsWindow(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionActivated, "sub_77"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	before, err := h.subs.FindByExternalID(ctx, "sub_77")
	require.NoError(t, err)
	require.NotNil(t, before.EndDate)

	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionActivated, "sub_77"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	after, err := h.subs.FindByExternalID(ctx, "sub_77")
	require.NoError(t, err)
	require.NotNil(t, after.EndDate)
	assert.WithinDuration(t, before.EndDate.AddDate(0, 0, 30), *after.EndDate, time.Minute)
}

func TestApplySubscriptionCancelledNeverReactivates(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionActivated, "sub_77"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionCancelled, "sub_77"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	// a stray late activation must not resurrect the agreement
	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionActivated, "sub_77"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	sub, err := h.subs.FindByExternalID(ctx, "sub_77")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
}

func TestApplySubscriptionSuspendedAndReactivated(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	outcome, err := h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionActivated, "sub_77"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionSuspended, "sub_77"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	sub, err := h.subs.FindByExternalID(ctx, "sub_77")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusSuspended, sub.Status)

	// a payment recovery reactivates the suspended grant
	outcome, err = h.engine.ApplyEvent(ctx, h.event(payments.EventKindSubscriptionActivated, "sub_77"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	sub, err = h.subs.FindByExternalID(ctx, "sub_77")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
}

func TestApplyEventMissingMetadataIsMalformed(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	event := h.event(payments.EventKindPaymentSucceeded, "pi_ghost")
	event.Metadata = payments.EventMetadata{}

	outcome, err := h.engine.ApplyEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, outcome)

	order, err := h.orders.FindByExternalPaymentID(ctx, "pi_ghost")
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestApplyEventUnknownPlanIsMalformed(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	event := h.event(payments.EventKindPaymentSucceeded, "pi_ghost")
	event.Metadata.PlanID = uuid.NewString()

	outcome, err := h.engine.ApplyEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, outcome)
}

func TestApplyEventUnknownKindIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	event := h.event(payments.EventKindUnknown, "")
	outcome, err := h.engine.ApplyEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestApplyEventMissingExternalRef(t *testing.T) {
	ctx := context.Background()
	h := setupEngineTest(t)

	event := h.event(payments.EventKindPaymentSucceeded, "")
	outcome, err := h.engine.ApplyEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, outcome)
}
