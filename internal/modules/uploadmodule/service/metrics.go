package service

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports upload pipeline counters to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	fingerprints   *prometheus.CounterVec
	isrcChecks     *prometheus.CounterVec
	reaperFailures prometheus.Counter
	activeSessions prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const namespace = "tunevault"

	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "submissions_total",
			Help:      "Upload submissions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "audio_bytes_total",
			Help:      "Audio bytes written by successful uploads.",
		}),
		fingerprints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "fingerprint_results_total",
			Help:      "Fingerprint checks by outcome.",
		}, []string{"outcome"}),
		isrcChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "isrc_lookups_total",
			Help:      "Rights registry lookups by result.",
		}, []string{"result"}),
		reaperFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "staging_cleanup_failures_total",
			Help:      "Staging objects that could not be deleted.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "active_sessions",
			Help:      "Upload sessions currently held in memory.",
		}),
	}

	collectors := []prometheus.Collector{m.uploads, m.uploadBytes, m.fingerprints, m.isrcChecks, m.reaperFailures, m.activeSessions}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register upload metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) recordUpload(kind, outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind, outcome).Inc()
	if outcome == "success" && bytes > 0 {
		m.uploadBytes.Add(float64(bytes))
	}
}

func (m *Metrics) recordFingerprint(outcome string) {
	if m == nil {
		return
	}
	m.fingerprints.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordISRCLookup(result string) {
	if m == nil {
		return
	}
	m.isrcChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) recordReaperFailure() {
	if m == nil {
		return
	}
	m.reaperFailures.Inc()
}

func (m *Metrics) setActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
