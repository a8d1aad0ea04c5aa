package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultSchedule = "0 6 * * *"

// ErrRunInProgress is returned by TriggerNow while another run is executing
var ErrRunInProgress = errors.New("monitor run already in progress")

// RunFunc executes a single named monitor
type RunFunc func(ctx context.Context, monitor string) error

// MonitorScheduler runs a fixed list of monitors on a cron schedule.
// Monitors run sequentially within a cycle; a cycle that would overlap a running one is skipped.
type MonitorScheduler struct {
	monitors []string
	run      RunFunc
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	running  bool
	busy     atomic.Bool
	lastRun  time.Time
	lastErr  error
	mu       sync.Mutex
	logger   zerolog.Logger
}

// MonitorSchedulerConfig holds configuration for the monitor scheduler
type MonitorSchedulerConfig struct {
	Monitors []string
	Run      RunFunc
	Schedule string        // Cron schedule string (e.g., "0 6 * * *")
	Timeout  time.Duration // Per-cycle timeout; zero means 2 hours
	Logger   zerolog.Logger
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// NewMonitorScheduler creates a new monitor scheduler
func NewMonitorScheduler(cfg *MonitorSchedulerConfig) (*MonitorScheduler, error) {
	if cfg.Run == nil {
		return nil, fmt.Errorf("monitor scheduler requires a run function")
	}
	if len(cfg.Monitors) == 0 {
		return nil, fmt.Errorf("monitor scheduler requires at least one monitor")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := newParser().Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}

	s := &MonitorScheduler{
		monitors: append([]string(nil), cfg.Monitors...),
		run:      cfg.Run,
		schedule: schedule,
		timeout:  timeout,
		logger:   cfg.Logger.With().Str("component", "monitor-scheduler").Logger(),
	}

	s.logger.Info().
		Str("schedule", schedule).
		Strs("monitors", s.monitors).
		Msg("Monitor scheduler initialized")

	return s, nil
}

// Start starts the monitor scheduler
func (s *MonitorScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Monitor scheduler already running")
		return nil
	}

	s.cron = cron.New(cron.WithParser(newParser()))
	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.getNextRun()).
		Msg("Monitor scheduler started")

	return nil
}

// Stop stops the scheduler, waiting for a running cycle to finish
func (s *MonitorScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.running = false
	s.logger.Info().Msg("Monitor scheduler stopped")
}

// Shutdown stops the scheduler, for registration with the shutdown coordinator
func (s *MonitorScheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MonitorScheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.cycle(ctx, "scheduled"); errors.Is(err, ErrRunInProgress) {
		s.logger.Warn().Msg("Previous monitor cycle still running, skipping")
	}
}

// TriggerNow runs every monitor immediately and returns the first failure
func (s *MonitorScheduler) TriggerNow(ctx context.Context) error {
	s.logger.Info().Msg("Manual monitor trigger")
	return s.cycle(ctx, "manual")
}

func (s *MonitorScheduler) cycle(ctx context.Context, trigger string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer s.busy.Store(false)

	startTime := time.Now()
	var (
		successCount int
		errorCount   int
		firstErr     error
	)

	for _, name := range s.monitors {
		if err := ctx.Err(); err != nil {
			firstErr = errors.Join(firstErr, err)
			break
		}

		if err := s.run(ctx, name); err != nil {
			s.logger.Error().
				Err(err).
				Str("monitor", name).
				Msg("Monitor execution failed")
			errorCount++
			if firstErr == nil {
				firstErr = fmt.Errorf("monitor %s: %w", name, err)
			}
			continue
		}
		successCount++
	}

	s.mu.Lock()
	s.lastRun = startTime
	s.lastErr = firstErr
	s.mu.Unlock()

	s.logger.Info().
		Str("trigger", trigger).
		Int("success_count", successCount).
		Int("error_count", errorCount).
		Dur("duration", time.Since(startTime)).
		Msg("Monitor cycle completed")

	return firstErr
}

func (s *MonitorScheduler) getNextRun() time.Time {
	schedule, err := newParser().Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// Status returns scheduler status
func (s *MonitorScheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":  s.running,
		"schedule": s.schedule,
		"monitors": append([]string(nil), s.monitors...),
		"busy":     s.busy.Load(),
	}
	if s.running {
		status["next_run"] = s.getNextRun().Format(time.RFC3339)
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.Format(time.RFC3339)
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}
	return status
}

// IsRunning returns whether the scheduler is running
func (s *MonitorScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetSchedule returns the cron schedule string
func (s *MonitorScheduler) GetSchedule() string {
	return s.schedule
}
