package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ARIFALIDAWOOD/RealtimeVoiceChat/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSweepInterval = 15 * time.Minute

// Sweeper periodically forces expiry of stale sessions that no lazy read
// has observed yet. It wakes on a fixed interval, or on a cron schedule
// when one is configured, runs one sweep pass and sleeps again until
// stopped.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	schedule cron.Schedule
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	running bool
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	// Interval between sweep passes. Ignored when Schedule is set.
	Interval time.Duration

	// Schedule is an optional cron expression (standard five fields).
	Schedule string

	Logger zerolog.Logger
}

// NewSweeper creates a cleanup sweeper for the given manager.
func NewSweeper(manager *Manager, opts SweeperOptions) (*Sweeper, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}

	var schedule cron.Schedule
	if opts.Schedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		parsed, err := parser.Parse(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep schedule: %w", err)
		}
		schedule = parsed
	}

	return &Sweeper{
		manager:  manager,
		interval: opts.Interval,
		schedule: schedule,
		logger:   opts.Logger.With().Str("component", "cleanup_sweeper").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start starts the background sweep loop.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	s.running = true
	go s.run()

	s.logger.Info().Dur("interval", s.interval).Msg("Cleanup sweeper started")
	return nil
}

// Stop signals the loop to stop and waits for any in-flight pass to finish.
// Each session's transition is atomic on its own, so cancellation never
// leaves a session half-expired.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.logger.Info().Msg("Cleanup sweeper stopped")
	return nil
}

// IsRunning returns whether the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.sweep()
			timer.Reset(s.nextWait())
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) nextWait() time.Duration {
	if s.schedule == nil {
		return s.interval
	}
	now := time.Now()
	wait := s.schedule.Next(now).Sub(now)
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}

func (s *Sweeper) sweep() {
	start := time.Now()

	cleaned, err := s.manager.CleanupExpired(context.Background())
	if err != nil {
		observability.RecordSweep(time.Since(start), cleaned, 1)
		s.logger.Error().Err(err).Msg("Cleanup sweep failed")
		return
	}

	observability.RecordSweep(time.Since(start), cleaned, 0)
	if cleaned > 0 {
		s.logger.Info().Int("expired", cleaned).Msg("Cleanup sweep removed expired sessions")
	}
}

// SweepNow immediately runs one sweep pass.
func (s *Sweeper) SweepNow(ctx context.Context) (int, error) {
	return s.manager.CleanupExpired(ctx)
}

// Stats describes the sweeper's current view of expiry candidates.
type Stats struct {
	Interval   string `json:"interval"`
	Running    bool   `json:"running"`
	Candidates int    `json:"candidates"`
}

// GetStats reports how many sessions are currently eligible for expiry.
func (s *Sweeper) GetStats(ctx context.Context) (Stats, error) {
	expired, err := s.manager.store.ListExpiredSessions(ctx, time.Now())
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Interval:   s.interval.String(),
		Running:    s.IsRunning(),
		Candidates: len(expired),
	}, nil
}
