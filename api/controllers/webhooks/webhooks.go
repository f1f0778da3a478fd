package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coursepass/coursepass-backend/api/responses"
	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/internal/reconcile"
	pkgerrors "github.com/coursepass/coursepass-backend/pkg/errors"
	"github.com/coursepass/coursepass-backend/pkg/logger"
	"github.com/coursepass/coursepass-backend/pkg/metrics"
)

// maxPayloadBytes bounds webhook bodies; providers send small JSON documents.
const maxPayloadBytes = 1 << 20

type eventApplier interface {
	ApplyEvent(ctx context.Context, event *payments.Event) (reconcile.Outcome, error)
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// handle runs the shared webhook pipeline: verify, dedupe, apply.
//
// Only signature failures and unreadable payloads produce non-2xx responses;
// everything the provider sent in good faith is acknowledged so it stops
// retrying, with unusable events logged for operator recovery instead.
func handle(provider payments.Provider, applier eventApplier, guard webhookGuard, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if provider == nil || applier == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		name := string(provider.Name())
		m.IncReceived(name)
		start := time.Now()
		defer func() { m.ObserveDuration(name, time.Since(start)) }()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := provider.VerifyWebhook(payload, r.Header)
		if err != nil {
			switch {
			case errors.Is(err, payments.ErrSignatureInvalid):
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "webhook signature"))
			case errors.Is(err, payments.ErrPayloadMalformed):
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook payload"))
			default:
				responses.WriteError(ctx, logg, w, err)
			}
			return
		}
		if event == nil || event.Kind == payments.EventKindUnknown {
			responses.WriteSuccess(w, nil)
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"provider":     name,
				"event_type":   event.RawType,
				"external_ref": event.ExternalRef,
			})
		}

		key := event.DedupKey()
		alreadyProcessed, err := guard.CheckAndMark(ctx, key)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			m.IncDuplicate(name, event.RawType)
			responses.WriteSuccess(w, nil)
			return
		}

		outcome, err := applier.ApplyEvent(ctx, event)
		if err != nil {
			_ = guard.Delete(ctx, key)
			m.IncFailed(name, event.RawType)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		switch outcome {
		case reconcile.OutcomeApplied:
			m.IncApplied(name, event.RawType)
		case reconcile.OutcomeMalformed:
			m.IncMalformed(name, event.RawType)
		}

		if logg != nil {
			logg.Info(ctx, "webhook event processed")
		}
		responses.WriteSuccess(w, nil)
	}
}
