// Package metrics holds the Prometheus collectors for collection runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"land-collector/utils"
)

var (
	SectionFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "land_section_fetches_total",
			Help: "Section fetch results by section and outcome (present or an error kind)",
		},
		[]string{"section", "outcome"},
	)

	FieldProvenance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "land_field_provenance_total",
			Help: "Normalized fields by canonical field and provenance tag",
		},
		[]string{"field", "provenance"},
	)

	ListingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "land_listing_outcomes_total",
			Help: "Final outcome per submitted listing identifier",
		},
		[]string{"outcome"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "land_token_refreshes_total",
			Help: "Token refresh calls to the auth source by result",
		},
		[]string{"result"},
	)

	RateLimitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "land_rate_limit_retries_total",
			Help: "Requests retried after an HTTP 429",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "land_request_duration_seconds",
			Help:    "Outbound API request latency by status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *utils.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("[metrics] Serving on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[metrics] Server failed: %v", err)
		}
	}()
}
