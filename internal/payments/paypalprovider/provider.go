package paypalprovider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/pkg/config"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

const signatureHeader = "Paypal-Transmission-Sig"

// Provider implements the wallet payment flow on PayPal. Checkout runs as an
// approval redirect: the order is created here, the buyer approves on the
// provider side, and CaptureCharge finalizes it.
type Provider struct {
	client *Client
	cfg    config.PayPalConfig
	logg   *logger.Logger
}

// ProviderParams groups dependencies for the PayPal provider.
type ProviderParams struct {
	Client *Client
	Config config.PayPalConfig
	Logger *logger.Logger
}

// NewProvider builds the PayPal provider.
func NewProvider(params ProviderParams) (*Provider, error) {
	if params.Client == nil {
		return nil, errors.New("paypal client is required")
	}
	return &Provider{
		client: params.Client,
		cfg:    params.Config,
		logg:   params.Logger,
	}, nil
}

func (p *Provider) Name() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreateCharge creates a checkout order the buyer must approve. The local
// user and plan ids travel in custom_id so webhooks can rebuild missing
// records.
func (p *Provider) CreateCharge(ctx context.Context, plan *models.Plan, userID string) (*payments.ChargeHandle, error) {
	if plan == nil {
		return nil, payments.NewProviderError(payments.ErrorKindUnavailable, "plan is required", nil)
	}
	if !p.client.Configured() {
		return nil, payments.NewProviderError(payments.ErrorKindUnavailable, "paypal credentials missing", nil)
	}

	customID, err := json.Marshal(map[string]string{
		"user_id": userID,
		"plan_id": plan.ID.String(),
	})
	if err != nil {
		return nil, payments.NewProviderError(payments.ErrorKindUnavailable, "encoding custom id", err)
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id":   string(customID),
			"description": plan.Name,
			"amount": map[string]string{
				"currency_code": plan.Currency.String(),
				"value":         plan.PriceAmount.StringFixed(2),
			},
		}},
	}

	var created orderResponse
	if err := p.client.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &created); err != nil {
		return nil, err
	}

	approval := ""
	for _, link := range created.Links {
		if link.Rel == "approve" {
			approval = link.Href
			break
		}
	}

	return &payments.ChargeHandle{
		ExternalID:  created.ID,
		ApprovalURL: approval,
	}, nil
}

// CaptureCharge captures an approved order.
func (p *Provider) CaptureCharge(ctx context.Context, externalID string) (*payments.CaptureResult, error) {
	if externalID == "" {
		return nil, payments.NewProviderError(payments.ErrorKindRejected, "external id is required", nil)
	}

	var captured orderResponse
	if err := p.client.do(ctx, http.MethodPost, "/v2/checkout/orders/"+externalID+"/capture", nil, &captured); err != nil {
		return nil, err
	}

	txID := captured.ID
	for _, unit := range captured.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				txID = capture.ID
			}
		}
	}

	return &payments.CaptureResult{
		Succeeded:             captured.Status == "COMPLETED",
		ExternalTransactionID: txID,
	}, nil
}

type webhookEnvelope struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	CreateTime   string `json:"create_time"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		ID                 string `json:"id"`
		CustomID           string `json:"custom_id"`
		Custom             string `json:"custom"`
		BillingAgreementID string `json:"billing_agreement_id"`
	} `json:"resource"`
}

// VerifyWebhook authenticates the payload with an HMAC shared secret using a
// constant-time comparison. An empty secret rejects everything unless the
// allow-unverified setup flag is explicitly enabled; every event accepted
// that way is logged.
func (p *Provider) VerifyWebhook(payload []byte, headers http.Header) (*payments.Event, error) {
	secret := p.cfg.WebhookSecret
	if secret == "" {
		if !p.cfg.AllowUnverifiedWebhooks {
			return nil, payments.ErrSignatureInvalid
		}
		if p.logg != nil {
			p.logg.Warn(context.Background(), "accepting unverified paypal webhook: no webhook secret configured")
		}
	} else {
		sig := headers.Get(signatureHeader)
		if sig == "" || !validSignature(payload, secret, sig) {
			return nil, payments.ErrSignatureInvalid
		}
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, payments.ErrPayloadMalformed
	}
	if envelope.EventType == "" {
		return nil, payments.ErrPayloadMalformed
	}

	return p.mapEvent(&envelope)
}

// CancelRecurring cancels a billing subscription. An already-cancelled
// subscription reports success.
func (p *Provider) CancelRecurring(ctx context.Context, externalSubscriptionID string) (bool, error) {
	if externalSubscriptionID == "" {
		return false, payments.NewProviderError(payments.ErrorKindRejected, "subscription id is required", nil)
	}

	body := map[string]string{"reason": "cancelled by operator"}
	err := p.client.do(ctx, http.MethodPost, "/v1/billing/subscriptions/"+externalSubscriptionID+"/cancel", body, nil)
	if err != nil {
		if pe := payments.AsProviderError(err); pe != nil && pe.Kind == payments.ErrorKindRejected {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Provider) mapEvent(envelope *webhookEnvelope) (*payments.Event, error) {
	occurred := time.Now().UTC()
	if envelope.CreateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, envelope.CreateTime); err == nil {
			occurred = parsed.UTC()
		}
	}

	out := &payments.Event{
		Provider:    enums.PaymentProviderPayPal,
		Kind:        payments.EventKindUnknown,
		RawType:     envelope.EventType,
		EventID:     envelope.ID,
		ExternalRef: envelope.Resource.ID,
		Metadata:    metadataFromCustomID(envelope.Resource.CustomID, envelope.Resource.Custom),
		OccurredAt:  occurred,
	}

	switch envelope.EventType {
	case "BILLING.SUBSCRIPTION.CREATED":
		out.Kind = payments.EventKindSubscriptionCreated
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		out.Kind = payments.EventKindSubscriptionActivated
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		out.Kind = payments.EventKindSubscriptionCancelled
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		out.Kind = payments.EventKindSubscriptionSuspended
	case "PAYMENT.SALE.COMPLETED", "PAYMENT.CAPTURE.COMPLETED":
		out.Kind = payments.EventKindPaymentSucceeded
	case "PAYMENT.SALE.DENIED", "PAYMENT.CAPTURE.DENIED":
		out.Kind = payments.EventKindPaymentFailed
	case "PAYMENT.SALE.REFUNDED", "PAYMENT.CAPTURE.REFUNDED":
		out.Kind = payments.EventKindPaymentRefunded
	}

	return out, nil
}

// metadataFromCustomID decodes the JSON blob the checkout flow placed in
// custom_id. Older sale events surface it under "custom".
func metadataFromCustomID(customID, custom string) payments.EventMetadata {
	raw := customID
	if raw == "" {
		raw = custom
	}
	if raw == "" {
		return payments.EventMetadata{}
	}
	var decoded struct {
		UserID string `json:"user_id"`
		PlanID string `json:"plan_id"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return payments.EventMetadata{}
	}
	return payments.EventMetadata{
		UserID: decoded.UserID,
		PlanID: decoded.PlanID,
	}
}

func validSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
