package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/services/analysis"
)

// Scheduler runs the periodic background sweeps: returning expired queue
// leases to pending and resetting the fixed daily usage counters at UTC
// midnight
type Scheduler struct {
	config  *common.MaintenanceConfig
	queue   interfaces.QueueStorage
	limiter *analysis.RateLimiter
	cron    *cron.Cron
	logger  arbor.ILogger
}

// NewScheduler creates the maintenance scheduler
func NewScheduler(config *common.MaintenanceConfig, queue interfaces.QueueStorage, limiter *analysis.RateLimiter) *Scheduler {
	return &Scheduler{
		config:  config,
		queue:   queue,
		limiter: limiter,
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		logger:  common.GetLogger(),
	}
}

// Start registers the sweeps and begins the cron loop
func (s *Scheduler) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Maintenance scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.LeaseSweep, s.sweepLeases); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.CounterReset, s.resetCounters); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("lease_sweep", s.config.LeaseSweep).
		Str("counter_reset", s.config.CounterReset).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running sweeps
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

func (s *Scheduler) sweepLeases() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.queue.ExpireLeases(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("Lease sweep failed")
		return
	}
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("Expired leases returned to pending")
	}
}

func (s *Scheduler) resetCounters() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.limiter.ResetDailyCounters(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Daily counter reset failed")
		return
	}
	s.logger.Info().Msg("Daily usage counters reset")
}
