package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

type staticProvider struct {
	name enums.PaymentProvider
}

func (s staticProvider) Name() enums.PaymentProvider { return s.name }

func (s staticProvider) CreateCharge(context.Context, *models.Plan, string) (*ChargeHandle, error) {
	return nil, nil
}

func (s staticProvider) CaptureCharge(context.Context, string) (*CaptureResult, error) {
	return nil, nil
}

func (s staticProvider) VerifyWebhook([]byte, http.Header) (*Event, error) {
	return nil, nil
}

func (s staticProvider) CancelRecurring(context.Context, string) (bool, error) {
	return false, nil
}

func TestRegistryResolvesMethods(t *testing.T) {
	registry := NewRegistry(
		staticProvider{name: enums.PaymentProviderStripe},
		staticProvider{name: enums.PaymentProviderPayPal},
		nil,
	)

	p, err := registry.ForMethod(enums.PaymentMethodCard)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentProviderStripe, p.Name())

	p, err = registry.ForMethod(enums.PaymentMethodWallet)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentProviderPayPal, p.Name())

	_, err = registry.ForMethod(enums.PaymentMethod("cash"))
	require.Error(t, err)
	appErr := apperrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeValidation, appErr.Code())
}

func TestRegistryMissingProvider(t *testing.T) {
	registry := NewRegistry(staticProvider{name: enums.PaymentProviderStripe})

	_, err := registry.ForName(enums.PaymentProviderPayPal)
	require.Error(t, err)
	appErr := apperrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeDependency, appErr.Code())
}

func TestAsProviderError(t *testing.T) {
	base := NewProviderError(ErrorKindTimeout, "call timed out", context.DeadlineExceeded)

	pe := AsProviderError(base)
	require.NotNil(t, pe)
	assert.Equal(t, ErrorKindTimeout, pe.Kind)
	assert.ErrorIs(t, base, context.DeadlineExceeded)

	wrapped := fmt.Errorf("confirm checkout: %w", base)
	pe = AsProviderError(wrapped)
	require.NotNil(t, pe)
	assert.Equal(t, ErrorKindTimeout, pe.Kind)

	assert.Nil(t, AsProviderError(errors.New("plain")))
	assert.Nil(t, AsProviderError(nil))
}

func TestEventDedupKey(t *testing.T) {
	event := &Event{
		Provider:    enums.PaymentProviderPayPal,
		Kind:        EventKindPaymentSucceeded,
		ExternalRef: "CAPTURE-9",
	}
	assert.Equal(t, "paypal:CAPTURE-9:payment_succeeded", event.DedupKey())

	// delivery id ignored outside activation events
	event.EventID = "WH-1"
	assert.Equal(t, "paypal:CAPTURE-9:payment_succeeded", event.DedupKey())
}

func TestEventDedupKeyDistinguishesRenewals(t *testing.T) {
	january := &Event{
		Provider:    enums.PaymentProviderStripe,
		Kind:        EventKindSubscriptionActivated,
		ExternalRef: "sub_123",
		EventID:     "evt_renewal_jan",
	}
	february := &Event{
		Provider:    enums.PaymentProviderStripe,
		Kind:        EventKindSubscriptionActivated,
		ExternalRef: "sub_123",
		EventID:     "evt_renewal_feb",
	}

	// consecutive renewals share ref and kind; each must extend the window
	assert.NotEqual(t, january.DedupKey(), february.DedupKey())

	// the same delivery retried still collapses
	retry := *january
	assert.Equal(t, january.DedupKey(), retry.DedupKey())
}
