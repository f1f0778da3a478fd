package payments

import (
	"context"
	"net/http"

	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	apperrors "github.com/coursepass/coursepass-backend/pkg/errors"
)

// ChargeHandle is the provider-side reference returned by checkout initiation.
// Exactly one of ClientSecret or ApprovalURL is set, depending on whether the
// provider confirms in-page or via a redirect approval flow.
type ChargeHandle struct {
	ExternalID   string
	ClientSecret string
	ApprovalURL  string
}

// CaptureResult reports the outcome of capturing a previously created charge.
type CaptureResult struct {
	Succeeded             bool
	ExternalTransactionID string
}

// Provider is the capability set the reconciliation core needs from a payment
// processor. Implementations make outbound calls only and never mutate local
// state; all failures are normalized to ProviderError.
type Provider interface {
	Name() enums.PaymentProvider
	CreateCharge(ctx context.Context, plan *models.Plan, userID string) (*ChargeHandle, error)
	// CaptureCharge finalizes an approval-flow charge. Providers that capture
	// at creation return success without a network call.
	CaptureCharge(ctx context.Context, externalID string) (*CaptureResult, error)
	VerifyWebhook(payload []byte, headers http.Header) (*Event, error)
	CancelRecurring(ctx context.Context, externalSubscriptionID string) (bool, error)
}

// Registry resolves the configured provider for a payment method.
type Registry struct {
	providers map[enums.PaymentProvider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[enums.PaymentProvider]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// ForMethod returns the provider serving the given payment method.
func (r *Registry) ForMethod(method enums.PaymentMethod) (Provider, error) {
	name, err := enums.ProviderForMethod(method)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, "unsupported payment method")
	}
	return r.ForName(name)
}

// ForName returns the named provider.
func (r *Registry) ForName(name enums.PaymentProvider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, apperrors.New(apperrors.CodeDependency, "payment provider not configured")
	}
	return p, nil
}
