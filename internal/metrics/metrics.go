// Package metrics provides Prometheus instrumentation for the guardian engine.
//
// Metrics cover scans, detections, deduplication, corrections and notifications.
// They are exposed on the HTTP server's /metrics endpoint.
//
// A nil *Metrics is valid and records nothing, so components can take metrics
// as an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/spiralos/guardian/internal/types"
)

const namespace = "guardian"

// Outcome labels for corrections
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Dedup suppression reasons
const (
	SuppressedExisting    = "existing"
	SuppressedWithinBatch = "within_batch"
)

// Notification status labels
const (
	NotifySent        = "sent"
	NotifyFailed      = "failed"
	NotifyRateLimited = "rate_limited"
)

// Metrics holds every collector the engine records into
type Metrics struct {
	// ScansTotal counts scan invocations.
	// Labels: status (success, error)
	ScansTotal *prometheus.CounterVec

	// ScanDurationSeconds measures full scan duration
	ScanDurationSeconds prometheus.Histogram

	// NodesScannedTotal counts node evaluations across all scans
	NodesScannedTotal prometheus.Counter

	// AnomaliesDetectedTotal counts raw detector findings.
	// Labels: anomaly_type, severity
	AnomaliesDetectedTotal *prometheus.CounterVec

	// AnomaliesInsertedTotal counts findings that passed deduplication and were stored.
	// Labels: anomaly_type, severity
	AnomaliesInsertedTotal *prometheus.CounterVec

	// DedupSuppressedTotal counts suppressed findings.
	// Labels: anomaly_type, reason (existing, within_batch)
	DedupSuppressedTotal *prometheus.CounterVec

	// DetectorErrorsTotal counts detector failures.
	// Labels: anomaly_type
	DetectorErrorsTotal *prometheus.CounterVec

	// CorrectionsTotal counts dispatches.
	// Labels: correction_type, outcome (success, failure, skipped)
	CorrectionsTotal *prometheus.CounterVec

	// FreezesTotal counts self-preservation freezes
	FreezesTotal prometheus.Counter

	// ActiveRegulations tracks async regulation runs in flight
	ActiveRegulations prometheus.Gauge

	// NotificationsTotal counts notification attempts.
	// Labels: sink, status (sent, failed, rate_limited)
	NotificationsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Total scans by status",
		}, []string{"status"}),
		ScanDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "Full scan duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		NodesScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "nodes_scanned_total",
			Help:      "Total node evaluations",
		}),
		AnomaliesDetectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "anomalies_detected_total",
			Help:      "Detector findings by type and severity",
		}, []string{"anomaly_type", "severity"}),
		AnomaliesInsertedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "anomalies_inserted_total",
			Help:      "Anomalies stored after deduplication by type and severity",
		}, []string{"anomaly_type", "severity"}),
		DedupSuppressedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "dedup_suppressed_total",
			Help:      "Findings suppressed by the deduplication gate",
		}, []string{"anomaly_type", "reason"}),
		DetectorErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "detector_errors_total",
			Help:      "Detector failures by type",
		}, []string{"anomaly_type"}),
		CorrectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "regulation",
			Name:      "corrections_total",
			Help:      "Dispatches by correction type and outcome",
		}, []string{"correction_type", "outcome"}),
		FreezesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "regulation",
			Name:      "freezes_total",
			Help:      "Self-preservation freezes activated",
		}),
		ActiveRegulations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "regulation",
			Name:      "active_regulations",
			Help:      "Async regulation runs in flight",
		}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notification attempts by sink and status",
		}, []string{"sink", "status"}),
	}
}

// RecordScan records one finished scan
func (m *Metrics) RecordScan(duration time.Duration, nodes int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ScansTotal.WithLabelValues(status).Inc()
	m.ScanDurationSeconds.Observe(duration.Seconds())
	m.NodesScannedTotal.Add(float64(nodes))
}

// RecordDetected records a raw detector finding
func (m *Metrics) RecordDetected(a *types.Anomaly) {
	if m == nil {
		return
	}
	m.AnomaliesDetectedTotal.WithLabelValues(string(a.AnomalyType), string(a.Severity)).Inc()
}

// RecordInserted records a stored anomaly
func (m *Metrics) RecordInserted(a *types.Anomaly) {
	if m == nil {
		return
	}
	m.AnomaliesInsertedTotal.WithLabelValues(string(a.AnomalyType), string(a.Severity)).Inc()
}

// RecordSuppressed records a finding dropped by the dedup gate
func (m *Metrics) RecordSuppressed(anomalyType types.AnomalyType, reason string) {
	if m == nil {
		return
	}
	m.DedupSuppressedTotal.WithLabelValues(string(anomalyType), reason).Inc()
}

// RecordDetectorError records a failed detector
func (m *Metrics) RecordDetectorError(anomalyType types.AnomalyType) {
	if m == nil {
		return
	}
	m.DetectorErrorsTotal.WithLabelValues(string(anomalyType)).Inc()
}

// RecordCorrection records one dispatch outcome
func (m *Metrics) RecordCorrection(result *types.CorrectionResult, skipped bool) {
	if m == nil || result == nil {
		return
	}
	outcome := OutcomeFailure
	switch {
	case skipped:
		outcome = OutcomeSkipped
	case result.Success:
		outcome = OutcomeSuccess
	}
	m.CorrectionsTotal.WithLabelValues(string(result.CorrectionType), outcome).Inc()
}

// RecordFreeze records a self-preservation freeze
func (m *Metrics) RecordFreeze() {
	if m == nil {
		return
	}
	m.FreezesTotal.Inc()
}

// RegulationStarted increments the in-flight gauge
func (m *Metrics) RegulationStarted() {
	if m == nil {
		return
	}
	m.ActiveRegulations.Inc()
}

// RegulationFinished decrements the in-flight gauge
func (m *Metrics) RegulationFinished() {
	if m == nil {
		return
	}
	m.ActiveRegulations.Dec()
}

// RecordNotification records one sink delivery attempt
func (m *Metrics) RecordNotification(sink, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(sink, status).Inc()
}
