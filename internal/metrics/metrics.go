// Package metrics exports image build counters through a Prometheus registry.
package metrics

import (
	"time"

	"github.com/cochaviz/cask/internal/build"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cask"

var _ build.Observer = (*BuildMetrics)(nil)

// BuildMetrics records build outcomes. It is safe for concurrent use.
type BuildMetrics struct {
	registry        *prometheus.Registry
	builds          *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	cleanupFailures prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *BuildMetrics {
	m := &BuildMetrics{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_builds_total",
			Help:      "Agent image builds by capability profile and final status.",
		}, []string{"profile", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_build_duration_seconds",
			Help:      "Wall time from build start to completion, including staging and cleanup.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"profile"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "image_builds_in_flight",
			Help:      "Builds currently holding a concurrency slot.",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_context_cleanup_failures_total",
			Help:      "Build contexts that could not be removed.",
		}),
	}
	m.registry.MustRegister(m.builds, m.duration, m.inFlight, m.cleanupFailures)
	return m
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (m *BuildMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *BuildMetrics) BuildStarted(string) {
	m.inFlight.Inc()
}

func (m *BuildMetrics) BuildFinished(profile string, status string, elapsed time.Duration) {
	m.inFlight.Dec()
	m.builds.WithLabelValues(profile, status).Inc()
	m.duration.WithLabelValues(profile).Observe(elapsed.Seconds())
}

func (m *BuildMetrics) CleanupFailed() {
	m.cleanupFailures.Inc()
}

// WriteTextfile writes the current values in the node exporter textfile format.
func (m *BuildMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
