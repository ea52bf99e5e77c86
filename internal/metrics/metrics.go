package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_events_processed_total",
		Help: "Events processed by kind",
	}, []string{"kind"})
	DedupHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_dedup_hits_total",
		Help: "Events skipped as already processed",
	})
	Flushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_flushes_total",
		Help: "Batch flushes against the activity table",
	})
	UpsertErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_upsert_errors_total",
		Help: "Failed upserts (buffered delta dropped)",
	})
	FlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatpulse_flush_duration_seconds",
		Help:    "Flush duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	PinPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_pin_polls_total",
		Help: "Pin list polls",
	})
	PinEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_pin_events_total",
		Help: "Synthesized pin events by kind",
	}, []string{"kind"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_api_retries_total",
		Help: "Platform API retry attempts",
	}, []string{"endpoint"})
)

func init() {
	prometheus.MustRegister(EventsProcessed, DedupHits, Flushes, UpsertErrors,
		FlushDuration, PinPolls, PinEvents, APIRetries)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveFlushDuration records one flush duration.
func ObserveFlushDuration(start time.Time) {
	FlushDuration.Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }
