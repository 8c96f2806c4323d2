package metrics

import (
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// NoopMetricsRecorder is a no-op implementation for when metrics are disabled.
// All methods are safe to call and do nothing.
type NoopMetricsRecorder struct{}

// NewNoopMetricsRecorder creates a new no-op metrics recorder.
func NewNoopMetricsRecorder() *NoopMetricsRecorder {
	return &NoopMetricsRecorder{}
}

// RecordAuthAttempt is a no-op.
func (n *NoopMetricsRecorder) RecordAuthAttempt(idpName string, success bool) {}

// RecordReplayRejected is a no-op.
func (n *NoopMetricsRecorder) RecordReplayRejected() {}

// RecordPhaseViolation is a no-op.
func (n *NoopMetricsRecorder) RecordPhaseViolation() {}

// RecordSessionCreated is a no-op.
func (n *NoopMetricsRecorder) RecordSessionCreated() {}

// RecordUserProvisioned is a no-op.
func (n *NoopMetricsRecorder) RecordUserProvisioned(idpName string) {}

// RecordRetentionSweep is a no-op.
func (n *NoopMetricsRecorder) RecordRetentionSweep(deleted int64) {}

// Ensure NoopMetricsRecorder implements ports.MetricsRecorder
var _ ports.MetricsRecorder = (*NoopMetricsRecorder)(nil)
