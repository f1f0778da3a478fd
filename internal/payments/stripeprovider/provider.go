package stripeprovider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	stripelib "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/coursepass/coursepass-backend/internal/payments"
	pkgstripe "github.com/coursepass/coursepass-backend/pkg/stripe"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
)

const callTimeout = 30 * time.Second

// priceCache persists the lazily-created Stripe price id on the plan row.
type priceCache interface {
	SetStripePriceID(ctx context.Context, id uuid.UUID, priceID string) error
}

// Provider implements the card payment flow on Stripe. Charges capture at
// creation, so CaptureCharge never calls out.
type Provider struct {
	api    API
	client *pkgstripe.Client
	cache  priceCache
}

// ProviderParams groups dependencies for the Stripe provider.
type ProviderParams struct {
	API        API
	Client     *pkgstripe.Client
	PriceCache priceCache
}

// NewProvider builds the Stripe provider.
func NewProvider(params ProviderParams) (*Provider, error) {
	if params.API == nil {
		return nil, errors.New("stripe api is required")
	}
	if params.Client == nil {
		return nil, errors.New("stripe client is required")
	}
	if params.PriceCache == nil {
		return nil, errors.New("price cache is required")
	}
	return &Provider{
		api:    params.API,
		client: params.Client,
		cache:  params.PriceCache,
	}, nil
}

func (p *Provider) Name() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

// CreateCharge creates a PaymentIntent for the plan's frozen price. The
// Stripe price object is created lazily on first use and cached on the plan.
func (p *Provider) CreateCharge(ctx context.Context, plan *models.Plan, userID string) (*payments.ChargeHandle, error) {
	if plan == nil {
		return nil, payments.NewProviderError(payments.ErrorKindUnavailable, "plan is required", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if plan.StripePriceID == nil || *plan.StripePriceID == "" {
		priceID, err := p.ensurePrice(ctx, plan)
		if err != nil {
			return nil, err
		}
		plan.StripePriceID = &priceID
	}

	amountCents := plan.PriceAmount.Mul(centFactor).IntPart()
	params := &stripelib.PaymentIntentParams{
		Amount:   stripelib.Int64(amountCents),
		Currency: stripelib.String(strings.ToLower(plan.Currency.String())),
		AutomaticPaymentMethods: &stripelib.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripelib.Bool(true),
		},
	}
	params.AddMetadata("user_id", userID)
	params.AddMetadata("plan_id", plan.ID.String())

	intent, err := p.api.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, normalizeErr(err, "create payment intent")
	}

	return &payments.ChargeHandle{
		ExternalID:   intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// CaptureCharge is a no-op success: Stripe payment intents here capture
// automatically on confirmation.
func (p *Provider) CaptureCharge(ctx context.Context, externalID string) (*payments.CaptureResult, error) {
	if externalID == "" {
		return nil, payments.NewProviderError(payments.ErrorKindRejected, "external id is required", nil)
	}
	return &payments.CaptureResult{
		Succeeded:             true,
		ExternalTransactionID: externalID,
	}, nil
}

// VerifyWebhook checks the Stripe signature and maps the event onto the
// normalized tagged union.
func (p *Provider) VerifyWebhook(payload []byte, headers http.Header) (*payments.Event, error) {
	secret := p.client.SigningSecret()
	if secret == "" {
		return nil, payments.ErrSignatureInvalid
	}
	sig := headers.Get("Stripe-Signature")
	if sig == "" {
		return nil, payments.ErrSignatureInvalid
	}

	event, err := webhook.ConstructEvent(payload, sig, secret)
	if err != nil {
		return nil, payments.ErrSignatureInvalid
	}

	return p.mapEvent(&event)
}

// CancelRecurring cancels a Stripe subscription. Cancelling an
// already-cancelled subscription reports success.
func (p *Provider) CancelRecurring(ctx context.Context, externalSubscriptionID string) (bool, error) {
	if externalSubscriptionID == "" {
		return false, payments.NewProviderError(payments.ErrorKindRejected, "subscription id is required", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if _, err := p.api.CancelSubscription(ctx, externalSubscriptionID, &stripelib.SubscriptionCancelParams{}); err != nil {
		var stripeErr *stripelib.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return true, nil
		}
		return false, normalizeErr(err, "cancel subscription")
	}
	return true, nil
}

func (p *Provider) ensurePrice(ctx context.Context, plan *models.Plan) (string, error) {
	params := &stripelib.PriceParams{
		UnitAmount: stripelib.Int64(plan.PriceAmount.Mul(centFactor).IntPart()),
		Currency:   stripelib.String(strings.ToLower(plan.Currency.String())),
		ProductData: &stripelib.PriceProductDataParams{
			Name: stripelib.String(plan.Name),
		},
	}
	if plan.DurationDays > 0 {
		params.Recurring = &stripelib.PriceRecurringParams{
			Interval:      stripelib.String(string(stripelib.PriceRecurringIntervalDay)),
			IntervalCount: stripelib.Int64(int64(plan.DurationDays)),
		}
	}

	created, err := p.api.CreatePrice(ctx, params)
	if err != nil {
		return "", normalizeErr(err, "create price")
	}
	if err := p.cache.SetStripePriceID(ctx, plan.ID, created.ID); err != nil {
		return "", payments.NewProviderError(payments.ErrorKindUnavailable, "caching price id", err)
	}
	return created.ID, nil
}

func (p *Provider) mapEvent(event *stripelib.Event) (*payments.Event, error) {
	out := &payments.Event{
		Provider:   enums.PaymentProviderStripe,
		Kind:       payments.EventKindUnknown,
		RawType:    string(event.Type),
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case stripelib.EventTypePaymentIntentSucceeded, stripelib.EventTypePaymentIntentPaymentFailed:
		var intent stripelib.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, payments.ErrPayloadMalformed
		}
		out.ExternalRef = intent.ID
		out.Metadata = metadataFrom(intent.Metadata)
		if event.Type == stripelib.EventTypePaymentIntentSucceeded {
			out.Kind = payments.EventKindPaymentSucceeded
		} else {
			out.Kind = payments.EventKindPaymentFailed
		}

	case stripelib.EventTypeChargeRefunded:
		var charge stripelib.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, payments.ErrPayloadMalformed
		}
		if charge.PaymentIntent != nil {
			out.ExternalRef = charge.PaymentIntent.ID
		}
		out.Metadata = metadataFrom(charge.Metadata)
		out.Kind = payments.EventKindPaymentRefunded

	case stripelib.EventTypeCustomerSubscriptionCreated,
		stripelib.EventTypeCustomerSubscriptionUpdated,
		stripelib.EventTypeCustomerSubscriptionDeleted:
		var sub stripelib.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, payments.ErrPayloadMalformed
		}
		out.ExternalRef = sub.ID
		out.Metadata = metadataFrom(sub.Metadata)
		out.Kind = subscriptionKind(event.Type, sub.Status)

	case stripelib.EventTypeInvoicePaymentSucceeded, stripelib.EventTypeInvoicePaymentFailed:
		subID := event.GetObjectValue("subscription")
		if subID == "" {
			return nil, payments.ErrPayloadMalformed
		}
		out.ExternalRef = subID
		if event.Type == stripelib.EventTypeInvoicePaymentSucceeded {
			out.Kind = payments.EventKindSubscriptionActivated
		} else {
			out.Kind = payments.EventKindSubscriptionSuspended
		}
	}

	return out, nil
}

func subscriptionKind(eventType stripelib.EventType, status stripelib.SubscriptionStatus) payments.EventKind {
	if eventType == stripelib.EventTypeCustomerSubscriptionCreated {
		return payments.EventKindSubscriptionCreated
	}
	if eventType == stripelib.EventTypeCustomerSubscriptionDeleted {
		return payments.EventKindSubscriptionCancelled
	}
	switch status {
	case stripelib.SubscriptionStatusActive, stripelib.SubscriptionStatusTrialing:
		return payments.EventKindSubscriptionActivated
	case stripelib.SubscriptionStatusCanceled:
		return payments.EventKindSubscriptionCancelled
	case stripelib.SubscriptionStatusPastDue, stripelib.SubscriptionStatusUnpaid, stripelib.SubscriptionStatusPaused:
		return payments.EventKindSubscriptionSuspended
	default:
		return payments.EventKindUnknown
	}
}

func metadataFrom(m map[string]string) payments.EventMetadata {
	return payments.EventMetadata{
		UserID: m["user_id"],
		PlanID: m["plan_id"],
	}
}

func normalizeErr(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return payments.NewProviderError(payments.ErrorKindTimeout, op+" timed out", err)
	}
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripelib.ErrorTypeCard, stripelib.ErrorTypeInvalidRequest:
			return payments.NewProviderError(payments.ErrorKindRejected, op+" rejected", err)
		}
		return payments.NewProviderError(payments.ErrorKindUnavailable, op+" failed", err)
	}
	return payments.NewProviderError(payments.ErrorKindUnavailable, op+" failed", err)
}
