package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbpsnap_job_outcomes_total",
			Help: "Total number of finished jobs by flow and status",
		},
		[]string{"flow", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gbpsnap_job_duration_seconds",
			Help:    "Wall time of a job including retries",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"flow"},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbpsnap_job_retries_total",
			Help: "Total number of retried attempts",
		},
		[]string{"flow"},
	)

	ArtifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbpsnap_artifacts_total",
			Help: "Screenshots kept from successful jobs",
		},
		[]string{"flow"},
	)

	SlotsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gbpsnap_slots_in_flight",
			Help: "Jobs currently holding a concurrency slot",
		},
	)

	BlockedPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbpsnap_blocked_pages_total",
			Help: "Pages recognised as bot-protection challenges",
		},
		[]string{"source"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gbpsnap_proxy_failures_total",
			Help: "Total number of proxy failures during probes",
		},
		[]string{"proxy_url"},
	)
)

// RecordOutcome updates the job metrics for a finished job.
func RecordOutcome(o *job.Outcome) {
	if o == nil {
		return
	}
	JobOutcomesTotal.WithLabelValues(o.Flow, string(o.Status)).Inc()
	JobDuration.WithLabelValues(o.Flow).Observe(o.Duration.Seconds())
	if o.Retries > 0 {
		JobRetriesTotal.WithLabelValues(o.Flow).Add(float64(o.Retries))
	}
	if n := len(o.Artifacts); n > 0 {
		ArtifactsTotal.WithLabelValues(o.Flow).Add(float64(n))
	}
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "port", port, "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
