// Package metrics registers the Prometheus instrumentation shared across
// the mirror's components: fetch outcomes, coordinator pressure, and the
// two background loops.
package metrics

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratesmirror_fetch_succeeded_total",
		Help: "Fetch tasks that completed with a verified, stored tarball.",
	})
	FetchSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratesmirror_fetch_skipped_total",
		Help: "Fetch tasks skipped because the artifact was already cached by the time a worker picked them up.",
	})
	FetchFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cratesmirror_fetch_failed_total",
		Help: "Fetch tasks that failed, by stage.",
	}, []string{"stage"})
	FetchBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratesmirror_fetch_bytes_total",
		Help: "Total bytes downloaded from upstream.",
	})
	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cratesmirror_fetch_duration_seconds",
		Help:    "Time spent per fetch task, download through store insert.",
		Buckets: prometheus.DefBuckets,
	})

	CoordinatorOverloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratesmirror_coordinator_overloaded_total",
		Help: "Submit calls rejected because the task table was at MaxPending.",
	})
	CoordinatorPending = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cratesmirror_coordinator_pending",
		Help: "Current size of the fetch coordinator's task table.",
	}, func() float64 { return float64(pendingGaugeSource()) })

	RequestHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratesmirror_requests_cache_hit_total",
		Help: "Download requests served directly from the content store.",
	})
	RequestMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratesmirror_requests_cache_miss_total",
		Help: "Download requests that had to wait on a coordinator fetch.",
	})
	RequestNotFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cratesmirror_requests_not_found_total",
		Help: "Download requests for an identity absent from the index.",
	})

	SyncPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cratesmirror_sync_passes_total",
		Help: "Index synchronizer passes, by outcome.",
	}, []string{"outcome"})

	PrefetchPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cratesmirror_prefetch_passes_total",
		Help: "Pre-fetcher passes, by outcome.",
	}, []string{"outcome"})
)

var (
	registerOnce sync.Once

	pendingMu     sync.RWMutex
	pendingSource func() int
)

// SetPendingSource wires the coordinator's Len() into the
// cratesmirror_coordinator_pending gauge. Called once at startup.
func SetPendingSource(f func() int) {
	pendingMu.Lock()
	pendingSource = f
	pendingMu.Unlock()
}

func pendingGaugeSource() int {
	pendingMu.RLock()
	f := pendingSource
	pendingMu.RUnlock()
	if f == nil {
		return 0
	}
	return f()
}

// Register registers every collector with the default Prometheus
// registry. Safe to call more than once; only the first call has effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FetchSucceeded, FetchSkipped, FetchFailed, FetchBytes, FetchDuration,
			CoordinatorOverloaded, CoordinatorPending,
			RequestHits, RequestMisses, RequestNotFound,
			SyncPasses, PrefetchPasses,
		)
	})
}

// Serve exposes /metrics on addr: a best-effort background listener,
// logged rather than fatal on bind failure.
func Serve(addr string) {
	if addr == "" {
		return
	}
	Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "err", err)
		}
	}()
}
