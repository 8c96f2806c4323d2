package ports

// MetricsRecorder is the port interface for recording metrics.
// Implementations are adapters (PrometheusMetricsRecorder for production,
// NoopMetricsRecorder for disabled/testing).
type MetricsRecorder interface {
	// RecordAuthAttempt records an assertion consumption attempt.
	RecordAuthAttempt(idpName string, success bool)

	// RecordReplayRejected records a rejected replayed assertion.
	RecordReplayRejected()

	// RecordPhaseViolation records an assertion arriving in the wrong phase.
	RecordPhaseViolation()

	// RecordSessionCreated records a new local session.
	RecordSessionCreated()

	// RecordUserProvisioned records a just-in-time created account.
	RecordUserProvisioned(idpName string)

	// RecordRetentionSweep records one retention run and how many login
	// states it removed.
	RecordRetentionSweep(deleted int64)
}
