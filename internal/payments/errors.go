package payments

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a normalized provider failure.
type ErrorKind string

const (
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindRejected    ErrorKind = "rejected"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// ProviderError is the only failure shape a provider client surfaces for
// outbound calls. Transport errors never escape a provider unwrapped.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func NewProviderError(kind ErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Message: message, cause: cause}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var typed *ProviderError
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// Webhook verification failures. Handlers return non-2xx for these so the
// provider retries; everything else is acknowledged.
var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrPayloadMalformed = errors.New("webhook payload malformed")
)
