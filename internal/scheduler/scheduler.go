// Package scheduler triggers the nightly build on a cron schedule.
package scheduler

import (
	"context"
	"sync"

	"bluelab/internal/common"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs one job on a standard five-field cron expression.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu    sync.Mutex
	entry cron.EntryID
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
}

// Schedule replaces the current job. An empty expression only removes it.
func (s *Scheduler) Schedule(expr string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	if expr == "" {
		return nil
	}
	id, err := s.cron.AddFunc(expr, func() {
		s.logger.Info("scheduled run started", zap.String("schedule", expr))
		job()
	})
	if err != nil {
		return common.Errorf(common.ConfigErr, "NIGHTLY_SCHEDULE %q: %w", expr, err)
	}
	s.entry = id
	s.logger.Info("nightly build scheduled", zap.String("schedule", expr))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running job to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
