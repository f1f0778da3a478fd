package stripeprovider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v84"

	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/pkg/config"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	pkgstripe "github.com/coursepass/coursepass-backend/pkg/stripe"
)

const testSigningSecret = "whsec_test_secret"

type fakeAPI struct {
	intentParams []*stripelib.PaymentIntentParams
	intentErr    error

	priceParams []*stripelib.PriceParams
	priceErr    error

	cancelIDs []string
	cancelErr error
}

func (f *fakeAPI) CreatePaymentIntent(ctx context.Context, params *stripelib.PaymentIntentParams) (*stripelib.PaymentIntent, error) {
	f.intentParams = append(f.intentParams, params)
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return &stripelib.PaymentIntent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

func (f *fakeAPI) CreatePrice(ctx context.Context, params *stripelib.PriceParams) (*stripelib.Price, error) {
	f.priceParams = append(f.priceParams, params)
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return &stripelib.Price{ID: "price_test"}, nil
}

func (f *fakeAPI) CancelSubscription(ctx context.Context, id string, params *stripelib.SubscriptionCancelParams) (*stripelib.Subscription, error) {
	f.cancelIDs = append(f.cancelIDs, id)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &stripelib.Subscription{ID: id}, nil
}

type fakePriceCache struct {
	saved map[uuid.UUID]string
	err   error
}

func (f *fakePriceCache) SetStripePriceID(ctx context.Context, id uuid.UUID, priceID string) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[uuid.UUID]string)
	}
	f.saved[id] = priceID
	return nil
}

func setupStripeTest(t *testing.T) (*Provider, *fakeAPI, *fakePriceCache) {
	t.Helper()

	client, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: testSigningSecret,
		Env:           "test",
	}, nil)
	require.NoError(t, err)

	api := &fakeAPI{}
	cache := &fakePriceCache{}
	provider, err := NewProvider(ProviderParams{API: api, Client: client, PriceCache: cache})
	require.NoError(t, err)
	return provider, api, cache
}

func testPlan() *models.Plan {
	return &models.Plan{
		ID:           uuid.New(),
		Name:         "Monthly Access",
		Status:       enums.PlanStatusActive,
		PriceAmount:  decimal.RequireFromString("29.99"),
		Currency:     enums.CurrencyUSD,
		DurationDays: 30,
	}
}

func TestCreateChargeLazilyCreatesPrice(t *testing.T) {
	ctx := context.Background()
	provider, api, cache := setupStripeTest(t)
	plan := testPlan()
	userID := uuid.NewString()

	handle, err := provider.CreateCharge(ctx, plan, userID)
	require.NoError(t, err)
	assert.Equal(t, "pi_test", handle.ExternalID)
	assert.Equal(t, "pi_test_secret", handle.ClientSecret)

	require.Len(t, api.priceParams, 1)
	assert.Equal(t, int64(2999), *api.priceParams[0].UnitAmount)
	assert.Equal(t, "usd", *api.priceParams[0].Currency)
	assert.Equal(t, "price_test", cache.saved[plan.ID])
	require.NotNil(t, plan.StripePriceID)
	assert.Equal(t, "price_test", *plan.StripePriceID)

	require.Len(t, api.intentParams, 1)
	assert.Equal(t, int64(2999), *api.intentParams[0].Amount)
	assert.Equal(t, userID, api.intentParams[0].Metadata["user_id"])
	assert.Equal(t, plan.ID.String(), api.intentParams[0].Metadata["plan_id"])

	// the cached price is reused on the next charge
	_, err = provider.CreateCharge(ctx, plan, userID)
	require.NoError(t, err)
	assert.Len(t, api.priceParams, 1)
	assert.Len(t, api.intentParams, 2)
}

func TestCaptureChargeIsLocal(t *testing.T) {
	provider, api, _ := setupStripeTest(t)

	result, err := provider.CaptureCharge(context.Background(), "pi_test")
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.Equal(t, "pi_test", result.ExternalTransactionID)
	assert.Empty(t, api.intentParams)
}

func TestCancelRecurring(t *testing.T) {
	provider, api, _ := setupStripeTest(t)

	ok, err := provider.CancelRecurring(context.Background(), "sub_77")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"sub_77"}, api.cancelIDs)
}

func TestCancelRecurringMissingSubscriptionIsSuccess(t *testing.T) {
	provider, api, _ := setupStripeTest(t)
	api.cancelErr = &stripelib.Error{HTTPStatusCode: http.StatusNotFound}

	ok, err := provider.CancelRecurring(context.Background(), "sub_gone")
	require.NoError(t, err)
	assert.True(t, ok)
}

func signPayload(payload []byte, timestamp time.Time) string {
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "%d.%s", timestamp.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func signedHeaders(payload []byte) http.Header {
	headers := http.Header{}
	headers.Set("Stripe-Signature", signPayload(payload, time.Now()))
	return headers
}

func TestVerifyWebhookPaymentIntentSucceeded(t *testing.T) {
	provider, _, _ := setupStripeTest(t)

	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"api_version": "2025-12-15.clover",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {"object": {
			"id": "pi_123",
			"metadata": {"user_id": "u-1", "plan_id": "p-1"}
		}}
	}`)

	event, err := provider.VerifyWebhook(payload, signedHeaders(payload))
	require.NoError(t, err)
	assert.Equal(t, payments.EventKindPaymentSucceeded, event.Kind)
	assert.Equal(t, "pi_123", event.ExternalRef)
	assert.Equal(t, "u-1", event.Metadata.UserID)
	assert.Equal(t, "p-1", event.Metadata.PlanID)
	assert.Equal(t, "stripe:pi_123:payment_succeeded", event.DedupKey())
}

func TestVerifyWebhookChargeRefunded(t *testing.T) {
	provider, _, _ := setupStripeTest(t)

	payload := []byte(`{
		"id": "evt_2",
		"object": "event",
		"api_version": "2025-12-15.clover",
		"type": "charge.refunded",
		"created": 1700000000,
		"data": {"object": {
			"id": "ch_1",
			"payment_intent": {"id": "pi_123"}
		}}
	}`)

	event, err := provider.VerifyWebhook(payload, signedHeaders(payload))
	require.NoError(t, err)
	assert.Equal(t, payments.EventKindPaymentRefunded, event.Kind)
	assert.Equal(t, "pi_123", event.ExternalRef)
}

func TestVerifyWebhookUnhandledTypeIsUnknown(t *testing.T) {
	provider, _, _ := setupStripeTest(t)

	payload := []byte(`{"id": "evt_3", "object": "event", "api_version": "2025-12-15.clover", "type": "customer.created", "created": 1700000000, "data": {"object": {}}}`)

	event, err := provider.VerifyWebhook(payload, signedHeaders(payload))
	require.NoError(t, err)
	assert.Equal(t, payments.EventKindUnknown, event.Kind)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	provider, _, _ := setupStripeTest(t)

	payload := []byte(`{"id": "evt_1", "type": "payment_intent.succeeded"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t=1,v1=deadbeef")
	_, err := provider.VerifyWebhook(payload, headers)
	assert.ErrorIs(t, err, payments.ErrSignatureInvalid)

	_, err = provider.VerifyWebhook(payload, http.Header{})
	assert.ErrorIs(t, err, payments.ErrSignatureInvalid)
}

func TestNormalizeErr(t *testing.T) {
	timeoutErr := normalizeErr(context.DeadlineExceeded, "create payment intent")
	pe := payments.AsProviderError(timeoutErr)
	require.NotNil(t, pe)
	assert.Equal(t, payments.ErrorKindTimeout, pe.Kind)

	cardErr := normalizeErr(&stripelib.Error{Type: stripelib.ErrorTypeCard}, "create payment intent")
	pe = payments.AsProviderError(cardErr)
	require.NotNil(t, pe)
	assert.Equal(t, payments.ErrorKindRejected, pe.Kind)

	apiErr := normalizeErr(&stripelib.Error{Type: stripelib.ErrorTypeAPI}, "create payment intent")
	pe = payments.AsProviderError(apiErr)
	require.NotNil(t, pe)
	assert.Equal(t, payments.ErrorKindUnavailable, pe.Kind)
}
