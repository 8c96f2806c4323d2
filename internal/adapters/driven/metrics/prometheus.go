package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// PrometheusMetricsRecorder records metrics using Prometheus.
type PrometheusMetricsRecorder struct {
	authAttemptsTotal     *prometheus.CounterVec
	replayRejectedTotal   prometheus.Counter
	phaseViolationsTotal  prometheus.Counter
	sessionsCreatedTotal  prometheus.Counter
	usersProvisionedTotal *prometheus.CounterVec
	retentionSweepsTotal  prometheus.Counter
	retentionDeletedTotal prometheus.Counter
}

// NewPrometheusMetricsRecorder creates a new Prometheus metrics recorder
// using the default Prometheus registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	return NewPrometheusMetricsRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsRecorderWithRegistry creates a new Prometheus metrics recorder
// with a custom registry. Use this for testing.
func NewPrometheusMetricsRecorderWithRegistry(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	authAttemptsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "samlbridge_auth_attempts_total",
		Help: "Total assertion consumption attempts",
	}, []string{"idp", "result"})

	replayRejectedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samlbridge_replay_rejected_total",
		Help: "Total assertions rejected because their id was already consumed",
	})

	phaseViolationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samlbridge_phase_violations_total",
		Help: "Total assertions arriving while the login state was not awaiting one",
	})

	sessionsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samlbridge_sessions_created_total",
		Help: "Total local sessions created",
	})

	usersProvisionedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "samlbridge_users_provisioned_total",
		Help: "Total accounts created just in time",
	}, []string{"idp"})

	retentionSweepsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samlbridge_retention_sweeps_total",
		Help: "Total retention sweeps run",
	})

	retentionDeletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samlbridge_retention_deleted_total",
		Help: "Total idle login states removed by retention sweeps",
	})

	reg.MustRegister(
		authAttemptsTotal,
		replayRejectedTotal,
		phaseViolationsTotal,
		sessionsCreatedTotal,
		usersProvisionedTotal,
		retentionSweepsTotal,
		retentionDeletedTotal,
	)

	return &PrometheusMetricsRecorder{
		authAttemptsTotal:     authAttemptsTotal,
		replayRejectedTotal:   replayRejectedTotal,
		phaseViolationsTotal:  phaseViolationsTotal,
		sessionsCreatedTotal:  sessionsCreatedTotal,
		usersProvisionedTotal: usersProvisionedTotal,
		retentionSweepsTotal:  retentionSweepsTotal,
		retentionDeletedTotal: retentionDeletedTotal,
	}
}

// RecordAuthAttempt records an assertion consumption attempt.
func (p *PrometheusMetricsRecorder) RecordAuthAttempt(idpName string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.authAttemptsTotal.WithLabelValues(idpName, result).Inc()
}

// RecordReplayRejected records a rejected replayed assertion.
func (p *PrometheusMetricsRecorder) RecordReplayRejected() {
	p.replayRejectedTotal.Inc()
}

// RecordPhaseViolation records an assertion arriving in the wrong phase.
func (p *PrometheusMetricsRecorder) RecordPhaseViolation() {
	p.phaseViolationsTotal.Inc()
}

// RecordSessionCreated records a new local session.
func (p *PrometheusMetricsRecorder) RecordSessionCreated() {
	p.sessionsCreatedTotal.Inc()
}

// RecordUserProvisioned records a just-in-time created account.
func (p *PrometheusMetricsRecorder) RecordUserProvisioned(idpName string) {
	p.usersProvisionedTotal.WithLabelValues(idpName).Inc()
}

// RecordRetentionSweep records one retention run.
func (p *PrometheusMetricsRecorder) RecordRetentionSweep(deleted int64) {
	p.retentionSweepsTotal.Inc()
	p.retentionDeletedTotal.Add(float64(deleted))
}

// Ensure PrometheusMetricsRecorder implements ports.MetricsRecorder
var _ ports.MetricsRecorder = (*PrometheusMetricsRecorder)(nil)
