// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ProxyRequests     *prometheus.CounterVec // mode, outcome
	UpstreamFailures  *prometheus.CounterVec // upstream
	ResolverFailures  *prometheus.CounterVec // reason
	StatusTransitions *prometheus.CounterVec // status
	TargetSwitches    *prometheus.CounterVec // reason

	// Histograms (seconds)
	HelixRequestDuration *prometheus.HistogramVec // endpoint

	// Gauges
	ActiveSessions prometheus.Gauge
)

// Init registers metrics (idempotent). Record helpers are no-ops until it runs.
func Init() {
	once.Do(func() {
		ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwall_proxy_requests_total", Help: "Live-streams proxy requests by query mode and outcome"}, []string{"mode", "outcome"})
		UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwall_upstream_failures_total", Help: "Failed calls to upstream platform APIs"}, []string{"upstream"})
		ResolverFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwall_resolver_soft_failures_total", Help: "Proxy lookups that yielded no usable answer"}, []string{"reason"})
		StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwall_status_transitions_total", Help: "Debounced stream status transitions"}, []string{"status"})
		TargetSwitches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwall_target_switches_total", Help: "Wall target switches by reason"}, []string{"reason"})
		HelixRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "streamwall_helix_request_duration_seconds", Help: "Twitch Helix request duration seconds", Buckets: prometheus.DefBuckets}, []string{"endpoint"})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwall_active_sessions", Help: "Current number of live wall sessions"})
	})
}

// RecordProxyRequest counts one proxy request.
func RecordProxyRequest(mode, outcome string) {
	if ProxyRequests != nil {
		ProxyRequests.WithLabelValues(mode, outcome).Inc()
	}
}

// RecordUpstreamFailure counts one failed upstream call.
func RecordUpstreamFailure(upstream string) {
	if UpstreamFailures != nil {
		UpstreamFailures.WithLabelValues(upstream).Inc()
	}
}

// RecordResolverFailure counts a resolver call that degraded to "no signal".
func RecordResolverFailure(reason string) {
	if ResolverFailures != nil {
		ResolverFailures.WithLabelValues(reason).Inc()
	}
}

// RecordStatus counts a debounced status transition.
func RecordStatus(status string) {
	if StatusTransitions != nil {
		StatusTransitions.WithLabelValues(status).Inc()
	}
}

// RecordSwitch counts a target switch.
func RecordSwitch(reason string) {
	if TargetSwitches != nil {
		TargetSwitches.WithLabelValues(reason).Inc()
	}
}

// SetActiveSessions records the current session count.
func SetActiveSessions(n int) {
	if ActiveSessions != nil {
		ActiveSessions.Set(float64(n))
	}
}

// HelixObserver returns the latency observer for endpoint, or nil before Init.
func HelixObserver(endpoint string) prometheus.Observer {
	if HelixRequestDuration == nil {
		return nil
	}
	return HelixRequestDuration.WithLabelValues(endpoint)
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
