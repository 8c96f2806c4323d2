package statestore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// Sweeper periodically deletes login states that have been idle longer
// than the retention window. A session abandoned mid-redirect stays
// parked in saml_redirect_sent until the sweeper reclaims it.
type Sweeper struct {
	store    ports.LoginStateStore
	metrics  ports.MetricsRecorder
	logger   *zap.Logger
	window   time.Duration
	interval time.Duration
	stop     chan struct{}
}

// NewSweeper creates a retention sweeper. A zero window disables
// sweeping entirely.
func NewSweeper(store ports.LoginStateStore, metrics ports.MetricsRecorder, logger *zap.Logger, window, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		metrics:  metrics,
		logger:   logger,
		window:   window,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start launches the background sweep loop. No-op when retention is
// disabled.
func (s *Sweeper) Start() {
	if s.window <= 0 {
		s.logger.Info("login state retention disabled")
		return
	}
	go s.loop()
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stop)
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SweepOnce(context.Background())
		case <-s.stop:
			return
		}
	}
}

// SweepOnce runs a single retention pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.window)
	deleted, err := s.store.DeleteIdle(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	s.metrics.RecordRetentionSweep(deleted)
	if deleted > 0 {
		s.logger.Info("retention sweep complete",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}
