// Package scheduler runs the periodic integrity scan.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/robfig/cron/v3"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultSchedule runs the scan every fifteen minutes
	DefaultSchedule = "@every 15m"

	// DefaultLockTTL bounds how long one replica may hold the scan lock
	DefaultLockTTL = 10 * time.Minute

	// DefaultTimeout bounds a single scan
	DefaultTimeout = 5 * time.Minute

	lockKey = "integrity-scan"
)

// Scanner is the integrity check the scheduler runs.
type Scanner interface {
	Scan(ctx context.Context, owner string) (*models.IntegrityReport, error)
}

// Locker lets one replica at a time run the scan.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	// Schedule is a cron expression or an @every directive
	Schedule string
	LockTTL  time.Duration
	Timeout  time.Duration
}

// Scheduler scans every owner on a cron schedule. Reports are logged and
// exported through the integrity gauges by the scanner.
type Scheduler struct {
	scanner Scanner
	locker  Locker
	config  Config
	logger  ectologger.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	last    *models.IntegrityReport
}

// NewScheduler builds a scheduler. locker may be nil when a single replica runs.
func NewScheduler(scanner Scanner, locker Locker, config Config, logger ectologger.Logger) *Scheduler {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	return &Scheduler{
		scanner: scanner,
		locker:  locker,
		config:  config,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Run schedules the scan and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.tick(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.WithContext(ctx).WithField("schedule", s.config.Schedule).Info("Integrity scan scheduler started")

	<-ctx.Done()

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(s.config.Timeout):
		s.logger.Warn("Integrity scan still running at shutdown")
	}

	s.logger.Info("Integrity scan scheduler stopped")
	return nil
}

// RunOnce performs one scan of every owner, under the lock when one is configured.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.IntegrityReport, error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.RunOnce")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var report *models.IntegrityReport
	scan := func(ctx context.Context) error {
		var err error
		report, err = s.scanner.Scan(ctx, "")
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, lockKey, s.config.LockTTL, scan)
	} else {
		err = scan(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

// Last returns the report of the most recent successful scan, or nil.
func (s *Scheduler) Last() *models.IntegrityReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	report, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, redis.ErrLockNotAcquired):
		s.logger.WithContext(ctx).Debug("Integrity scan already running elsewhere")
	case err != nil:
		s.logger.WithContext(ctx).WithError(err).Error("Scheduled integrity scan failed")
	case !report.OK():
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"dangling": report.DanglingCount,
			"cycles":   report.CycleCount,
			"duration": time.Since(start),
		}).Warn("Integrity scan found violations")
	}
}
