package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/systmms/secretgov/internal/logging"
)

// Scheduler runs AutoRotateIfNeeded periodically.
type Scheduler struct {
	engine   *Engine
	clock    clock.Clock
	interval time.Duration
	actor    string
	logger   *logging.Logger

	// OnRun, if set, receives every batch result. It runs on the
	// scheduler goroutine.
	OnRun func(BatchResult)
}

// NewScheduler creates a scheduler that runs every interval as actor.
func NewScheduler(engine *Engine, clk clock.Clock, interval time.Duration, actor string, logger *logging.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", interval)
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{engine: engine, clock: clk, interval: interval, actor: actor, logger: logger}, nil
}

// Run blocks until ctx is cancelled, running one auto-rotation per
// interval. The first run happens one interval after Run starts.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := s.clock.NewTimer(s.interval)
	defer timer.Stop()

	s.logger.Info("Auto-rotation scheduled every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Auto-rotation scheduler stopped")
			return ctx.Err()
		case <-timer.Chan():
			result := s.engine.AutoRotateIfNeeded(ctx, s.actor, "")
			if result.Failed > 0 {
				s.logger.Warn("Scheduled rotation: %d of %d failed", result.Failed, result.Total)
			}
			if s.OnRun != nil {
				s.OnRun(result)
			}
			timer.Reset(s.interval)
		}
	}
}
