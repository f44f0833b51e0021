package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tally/internal/platform/metrics"
	"tally/internal/platform/middleware"
)

// NewRouter wires the full HTTP surface. The webhook route authenticates by
// payload signature, so it skips the bearer-token middleware the actor API
// requires; health and metrics stay unauthenticated for the platform.
func NewRouter(h *Handler, validator middleware.TokenValidator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(m.RequestLatency))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.ContentTypeJSON)
		r.Post("/webhooks/payment", h.handleWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(validator, logger))

		r.Post("/donations", h.handleCreateDonation)
		r.Get("/donations/{id}", h.handleGetDonation)
		r.Post("/donations/{id}/cancel", h.handleCancelDonation)
		r.Get("/donations/{id}/audit", h.handleDonationAudit)
		r.Post("/donations/{id}/refunds", h.handleRequestRefund)
		r.Get("/donations/{id}/refunds", h.handleListRefunds)

		r.Get("/donors/{fingerprint}/aggregate", h.handleDonorAggregate)

		r.Get("/reconcile", h.handleListReconcile)
		r.Post("/reconcile/{id}/resolve", h.handleResolveReconcile)
	})

	return r
}
