// Package metrics holds the Prometheus collectors exported by igsync.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StrategyAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "igsync_strategy_attempts_total",
		Help: "Acquisition attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	StrategyFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igsync_strategy_fetch_duration_seconds",
		Help:    "Time spent in one strategy fetch",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"strategy"})

	SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "igsync_sync_runs_total",
		Help: "Finished sync runs by result",
	}, []string{"result"})

	EventsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "igsync_sync_events_created_total",
		Help: "Events created from acquired posts",
	})

	ProfileErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "igsync_sync_profile_errors_total",
		Help: "Per-profile sync failures by kind",
	}, []string{"kind"})

	RateLimitWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igsync_ratelimit_wait_seconds",
		Help:    "Time callers spent waiting on a rate limiter",
		Buckets: []float64{0, .01, .1, .5, 1, 5, 10, 30, 60},
	}, []string{"limiter"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igsync_network_request_duration_seconds",
		Help:    "Duration of outbound network requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "igsync_network_request_total",
		Help: "Outbound network requests",
	}, []string{"component", "operation", "target", "status"})
)

var registerOnce sync.Once

// MustRegister registers every collector with registerer
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		StrategyAttempts,
		StrategyFetchDuration,
		SyncRuns,
		EventsCreated,
		ProfileErrors,
		RateLimitWait,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// RegisterDefault registers with the default registry once per process
func RegisterDefault() {
	registerOnce.Do(func() { MustRegister(prometheus.DefaultRegisterer) })
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveNetworkRequest records the duration and status of an outbound request
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveAttempt records one orchestrator attempt
func ObserveAttempt(strategy, outcome string, took time.Duration) {
	StrategyAttempts.WithLabelValues(strategy, outcome).Inc()
	StrategyFetchDuration.WithLabelValues(strategy).Observe(took.Seconds())
}

// ObserveRateLimitWait records how long a caller was held by a limiter
func ObserveRateLimitWait(limiter string, waited time.Duration) {
	RateLimitWait.WithLabelValues(limiter).Observe(waited.Seconds())
}

// ObserveSyncRun records the totals of a finished run
func ObserveSyncRun(result string, created int, errorKinds []string) {
	SyncRuns.WithLabelValues(result).Inc()
	EventsCreated.Add(float64(created))
	for _, kind := range errorKinds {
		ProfileErrors.WithLabelValues(kind).Inc()
	}
}
