package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/applianceshop/core/internal/health"
	"github.com/applianceshop/core/internal/middleware"
	"github.com/applianceshop/core/internal/service"
)

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(
	cartService *service.CartService,
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.Tracing("storefront"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	cartHandler := NewCartHandler(cartService, logger)
	orderHandler := NewOrderHandler(orderService, logger)
	paymentHandler := NewPaymentHandler(paymentService, orderService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Identity)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.SetItem)
			r.Delete("/items/{productID}", cartHandler.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderHandler.CreateOrder)
			r.Get("/", orderHandler.ListOrders)
			r.Get("/{id}", orderHandler.GetOrder)
			r.Post("/{id}/checkout", paymentHandler.Checkout)
			r.Post("/{id}/mock-payment", paymentHandler.MockPayment)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{sessionRef}/status", paymentHandler.PollStatus)
			r.Post("/{sessionRef}/verify", paymentHandler.Verify)
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))

			r.Get("/", orderHandler.AdminListOrders)
			r.Put("/{id}/status", orderHandler.AdminUpdateStatus)
		})
	})

	return r
}
