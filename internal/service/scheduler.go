package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// Scheduler runs rollup configurations on their cron schedules. Runs are
// enqueued asynchronously so a slow execution never blocks the cron loop.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	logger  *logging.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID // rollup id -> cron entry
}

// NewScheduler creates a stopped scheduler over the service.
func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{
		service: svc,
		cron:    cron.New(),
		logger:  logging.GetLogger("service.scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules a rollup. Configs without a schedule are ignored; re-adding
// a rollup replaces its previous entry.
func (s *Scheduler) Add(config models.RollupConfig) error {
	if config.Schedule == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[config.ID]; ok {
		s.cron.Remove(id)
	}

	tenantID, rollupID := config.TenantID, config.ID
	entry, err := s.cron.AddFunc(config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.service.Run(ctx, tenantID, rollupID, nil, RunOptions{Async: true}); err != nil {
			s.logger.Warn("Scheduled run of rollup %s failed: %v", rollupID, err)
		}
	})
	if err != nil {
		return rollerrors.Wrapf(rollerrors.CodeInvalidSchedule, err,
			"schedule %q for rollup %s", config.Schedule, config.ID)
	}
	s.entries[rollupID] = entry
	s.logger.Info("Scheduled rollup %s (%s)", rollupID, config.Schedule)
	return nil
}

// Remove drops a rollup's schedule if present.
func (s *Scheduler) Remove(rollupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[rollupID]; ok {
		s.cron.Remove(id)
		delete(s.entries, rollupID)
	}
}

// Scheduled reports how many rollups currently have a cron entry.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start implements lifecycle.Component.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Scheduler started with %d entries", s.Scheduled())
	return nil
}

// Stop implements lifecycle.Component: the cron loop stops accepting new
// fires and the call waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name implements lifecycle.Component.
func (s *Scheduler) Name() string {
	return "Rollup Scheduler"
}
