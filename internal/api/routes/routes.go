package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/tripnest/booking-payments/internal/api/handlers"
	"github.com/tripnest/booking-payments/internal/api/middleware"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// Options carries the middleware shared by the route groups
type Options struct {
	Idempotency middleware.IdempotencyCache
	// GeneralLimit and WebhookLimit are optional
	GeneralLimit *middleware.RateLimiter
	WebhookLimit *middleware.RateLimiter
	// StripeWebhook registers the Stripe-specific delivery path
	StripeWebhook bool
	Logger        *logger.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application, opts Options) {
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}

	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		// WebSocket connection
		v1.GET("/ws", h.HandleWebSocket)

		// Gateway deliveries are signed, not actor-authenticated
		webhooks := v1.Group("/payments/webhook")
		if opts.WebhookLimit != nil {
			webhooks.Use(opts.WebhookLimit.Middleware())
		}
		{
			webhooks.POST("", h.PaymentWebhook)
			if opts.StripeWebhook {
				webhooks.POST("/stripe", h.PaymentWebhook)
			}
		}

		api := v1.Group("")
		if opts.GeneralLimit != nil {
			api.Use(opts.GeneralLimit.Middleware())
		}
		api.Use(middleware.RequireActor())

		bookings := api.Group("/bookings")
		{
			bookings.POST("", middleware.Idempotency(opts.Idempotency, true, opts.Logger), h.CreateBooking)
			bookings.GET("/:id", h.GetBooking)
			bookings.POST("/:id/payment", h.ResumePayment)
			bookings.POST("/:id/cancel", h.CancelBooking)
			bookings.GET("/:id/refunds", h.ListRefunds)
		}

		refunds := api.Group("/refunds")
		{
			refunds.POST("/:id/resolve", h.ResolveRefund)
		}

		api.GET("/payments/return", h.PaymentReturn)
	}
}
