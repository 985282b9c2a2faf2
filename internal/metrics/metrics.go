// Package metrics is agentd's ambient observability surface: Prometheus
// counters/histograms for the IPC and dispatch layers, plus a loopback-only
// HTTP endpoint serving /metrics and /health. It is not part of the
// client-facing wire protocol; this is the
// kind of surface every service in this tree carries regardless of what a
// given module's feature scope excludes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MethodsDispatched counts every request a private service's dispatch
	// loop handled, by service and method name.
	MethodsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_methods_dispatched_total",
			Help: "Total number of dispatched requests by service and method",
		},
		[]string{"service", "method"},
	)

	// DispatchDuration times how long a dispatched method took to handle.
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_dispatch_duration_seconds",
			Help:    "Dispatched request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// CapabilityDenials counts requests rejected by the capability table,
	// by service and the verb that was denied.
	CapabilityDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_capability_denials_total",
			Help: "Total number of requests rejected for lacking a capability",
		},
		[]string{"service", "verb"},
	)

	// BlocksCanonized counts blocks the canonization service promoted from
	// process queue to the canonized chain.
	BlocksCanonized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentd_blocks_canonized_total",
			Help: "Total number of blocks canonized",
		},
	)

	// CanonizationDuration times one canonization pass.
	CanonizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentd_canonization_duration_seconds",
			Help:    "Time taken for a canonization pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// NotificationInvalidations counts pending block assertions the
	// notification service invalidated because canonization moved past
	// the asserted block without matching it.
	NotificationInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentd_notification_invalidations_total",
			Help: "Total number of block assertions invalidated by canonization",
		},
	)

	// TransportErrors counts framing/codec failures on the IPC and
	// authenticated-packet layers, by the connection's peer role.
	TransportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_transport_errors_total",
			Help: "Total number of IPC transport or packet codec errors",
		},
		[]string{"peer"},
	)
)

func init() {
	prometheus.MustRegister(
		MethodsDispatched,
		DispatchDuration,
		CapabilityDenials,
		BlocksCanonized,
		CanonizationDuration,
		NotificationInvalidations,
		TransportErrors,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an in-flight operation for later observation against a
// histogram, mirroring the dispatch loop's defer-observe call pattern.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
