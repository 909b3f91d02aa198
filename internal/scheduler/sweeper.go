// Package scheduler runs the trash expiry sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger removes expired trash items and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper calls Purger.PurgeExpired on every tick of its schedule.
type Sweeper struct {
	cron     *cron.Cron
	purger   Purger
	schedule string
	logger   *zap.Logger
	mu       sync.Mutex
	running  bool
	ctx      context.Context
}

// NewSweeper validates the six-field (seconds first) schedule.
func NewSweeper(purger Purger, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		cron:     cron.New(cron.WithSeconds()),
		purger:   purger,
		schedule: schedule,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("sweeper schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule. Sweeps stop using ctx once it is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.ctx = ctx
	s.logger.Info("starting trash sweeper", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish. The lock is released before
// waiting since tick takes it too.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	s.logger.Info("stopping trash sweeper")
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("trash sweep failed", zap.Error(err))
		return 0, err
	}
	s.logger.Debug("trash sweep finished", zap.Int64("purged", n))
	return n, nil
}

func (s *Sweeper) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	_, _ = s.RunOnce(ctx)
}
