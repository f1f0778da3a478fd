package enums

import "fmt"

// PaymentProvider names an external payment processor integration.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderPayPal PaymentProvider = "paypal"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderStripe,
	PaymentProviderPayPal,
}

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentProvider.
func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}

// Method returns the payment method family served by this provider.
func (p PaymentProvider) Method() PaymentMethod {
	if p == PaymentProviderPayPal {
		return PaymentMethodWallet
	}
	return PaymentMethodCard
}

// ProviderForMethod maps a payment method to its configured provider.
func ProviderForMethod(method PaymentMethod) (PaymentProvider, error) {
	switch method {
	case PaymentMethodCard:
		return PaymentProviderStripe, nil
	case PaymentMethodWallet:
		return PaymentProviderPayPal, nil
	default:
		return "", fmt.Errorf("no provider for payment method %q", method)
	}
}
