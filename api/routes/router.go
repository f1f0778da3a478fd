package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coursepass/coursepass-backend/api/controllers"
	webhookcontrollers "github.com/coursepass/coursepass-backend/api/controllers/webhooks"
	"github.com/coursepass/coursepass-backend/api/middleware"
	"github.com/coursepass/coursepass-backend/internal/access"
	orderssvc "github.com/coursepass/coursepass-backend/internal/orders"
	"github.com/coursepass/coursepass-backend/internal/payments"
	planssvc "github.com/coursepass/coursepass-backend/internal/plans"
	"github.com/coursepass/coursepass-backend/internal/reconcile"
	subssvc "github.com/coursepass/coursepass-backend/internal/subscriptions"
	"github.com/coursepass/coursepass-backend/pkg/config"
	"github.com/coursepass/coursepass-backend/pkg/db"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	"github.com/coursepass/coursepass-backend/pkg/logger"
	"github.com/coursepass/coursepass-backend/pkg/metrics"
	"github.com/coursepass/coursepass-backend/pkg/redis"
)

// RouterParams groups everything the HTTP surface needs.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       *redis.Client
	Plans       *planssvc.Service
	Orders      *orderssvc.Service
	Subs        *subssvc.Service
	Access      *access.Evaluator
	Engine      *reconcile.Engine
	Providers   *payments.Registry
	StripeGuard *reconcile.IdempotencyGuard
	PayPalGuard *reconcile.IdempotencyGuard
	WebhookMet  *metrics.WebhookMetrics
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", time.Minute, 60, 10)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/v1/plans", controllers.ListPlans(p.Plans, logg))
		r.Get("/v1/plans/{planID}", controllers.GetPlan(p.Plans, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if stripeProvider, err := p.Providers.ForName(enums.PaymentProviderStripe); err == nil {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeProvider, p.Engine, p.StripeGuard, p.WebhookMet, logg))
		}
		if paypalProvider, err := p.Providers.ForName(enums.PaymentProviderPayPal); err == nil {
			r.Post("/paypal", webhookcontrollers.PayPalWebhook(paypalProvider, p.Engine, p.PayPalGuard, p.WebhookMet, logg))
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Redis, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1", func(r chi.Router) {
			r.With(middleware.RateLimit(checkoutPolicy, p.Redis, logg)).
				Post("/checkout", controllers.Checkout(p.Engine, logg))
			r.With(middleware.RateLimit(checkoutPolicy, p.Redis, logg)).
				Post("/checkout/confirm", controllers.CheckoutConfirm(p.Engine, p.Orders, logg))

			r.Get("/access", controllers.AccessStatus(p.Access, logg))
			r.Get("/access/{resourceID}", controllers.AccessStatus(p.Access, logg))
			r.Get("/orders", controllers.MyOrders(p.Orders, logg))
			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", controllers.MySubscriptions(p.Subs, logg))
				r.Post("/{subscriptionID}/cancel", controllers.SubscriptionCancel(p.Subs, p.Engine, logg))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
				r.Get("/plans", controllers.AdminListPlans(p.Plans, logg))
				r.Post("/plans", controllers.AdminCreatePlan(p.Plans, logg))
				r.Patch("/plans/{planID}", controllers.AdminUpdatePlan(p.Plans, logg))
				r.Get("/orders", controllers.AdminListOrders(p.Orders, logg))
				r.Post("/subscriptions/{subscriptionID}/cancel", controllers.AdminCancelSubscription(p.Engine, logg))
			})
		})
	})

	return r
}
