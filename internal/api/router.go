// Package api exposes the ledger over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/observability"
)

// DefaultRequestTimeout bounds every request.
const DefaultRequestTimeout = 30 * time.Second

// NewRouter registers the ledger routes on a chi router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log, h.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/assets", func(r chi.Router) {
		r.Post("/", h.handleTokenize)
		r.Get("/{id}", h.handleGetAsset)
		r.Post("/{id}/transfers", h.handleTransfer)
		r.Post("/{id}/valuation", h.handleRefreshValuation)
	})

	r.Route("/investments", func(r chi.Router) {
		r.Post("/", h.handleRequestInvestment)
		r.Get("/{id}", h.handleGetInvestment)
		r.Post("/{id}/complete", h.handleCompleteInvestment)
		r.Post("/{id}/default", h.handleDefaultInvestment)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/tx-confirm", h.handleTxConfirm)
		r.Post("/chain-event", h.handleChainEvent)
	})

	r.Route("/admin/distributions", func(r chi.Router) {
		r.Post("/", h.handleStartDistribution)
		r.Get("/{jobId}", h.handleGetDistribution)
	})

	r.Route("/analytics", func(r chi.Router) {
		r.Get("/investors/{id}", h.handleInvestorAnalytics)
		r.Get("/assets/{id}", h.handleAssetAnalytics)
	})

	return r
}

// requestLogger logs and counts every request by its route pattern.
func requestLogger(log *logger.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RecordHTTP(route, strconv.Itoa(status))
			log.Debug("http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
