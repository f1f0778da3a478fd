package webhooks

import (
	"net/http"

	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/internal/reconcile"
	"github.com/coursepass/coursepass-backend/pkg/logger"
	"github.com/coursepass/coursepass-backend/pkg/metrics"
)

// PayPalWebhook handles PayPal payment and billing agreement events.
func PayPalWebhook(provider payments.Provider, engine *reconcile.Engine, guard *reconcile.IdempotencyGuard, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return handle(provider, engine, guard, m, logg)
}
