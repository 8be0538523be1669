package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

// SameLocalDay reports whether a and b fall on the same calendar date in loc.
func SameLocalDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// IsDue reports whether the daily automated run should fire at now. The
// predicate is level-triggered: it stays true from the scheduled time until a
// run records lastRunAt for the day.
func IsDue(cfg domain.AutomationConfig, now time.Time, loc *time.Location) bool {
	if !cfg.AutoRun || cfg.ScheduledTime == "" {
		return false
	}
	if cfg.LastRunAt != nil && SameLocalDay(*cfg.LastRunAt, now, loc) {
		return false
	}
	hour, minute, err := domain.ParseScheduledTime(cfg.ScheduledTime)
	if err != nil {
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	return local.Hour() > hour || (local.Hour() == hour && local.Minute() >= minute)
}

// NextRun returns the earliest instant at or after now when IsDue holds. The
// second result is false when automation is off or the time is invalid.
func NextRun(cfg domain.AutomationConfig, now time.Time, loc *time.Location) (time.Time, bool) {
	if !cfg.AutoRun || cfg.ScheduledTime == "" {
		return time.Time{}, false
	}
	hour, minute, err := domain.ParseScheduledTime(cfg.ScheduledTime)
	if err != nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	if IsDue(cfg, now, loc) {
		return now, true
	}

	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if cfg.LastRunAt != nil && SameLocalDay(*cfg.LastRunAt, now, loc) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next, true
}

// ScheduleStatus is the read model behind the schedule endpoint.
type ScheduleStatus struct {
	Active    bool       `json:"active"`
	Due       bool       `json:"due"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	Timezone  string     `json:"timezone"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// WarnNoChannels is reported while auto run is on with no delivery channel.
const WarnNoChannels = "Auto run is on but no delivery channels are active. Reports will not be delivered."

// AutomatedRunner starts an automated run for a configuration.
type AutomatedRunner interface {
	RunAutomated(ctx context.Context, cfg domain.AutomationConfig) error
}

// SchedulerDeps wires the timer driver, the store and the run orchestrator.
type SchedulerDeps struct {
	NewTicker func() ports.Ticker
	Store     ports.ConfigStore
	Runner    AutomatedRunner
	Location  *time.Location
	Now       func() time.Time
	Logger    *slog.Logger
}

// Scheduler owns the polling timer. The timer only exists while the current
// configuration has auto run enabled with a valid time.
type Scheduler struct {
	newTicker func() ports.Ticker
	store     ports.ConfigStore
	runner    AutomatedRunner
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	base   context.Context
	ticker ports.Ticker

	runMu   sync.Mutex
	lastRun time.Time
}

// NewScheduler returns an idle scheduler; call Start to arm it.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	s := &Scheduler{
		newTicker: deps.NewTicker,
		store:     deps.Store,
		runner:    deps.Runner,
		loc:       deps.Location,
		now:       deps.Now,
		logger:    deps.Logger,
		base:      context.Background(),
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Start binds ticks to ctx and applies the stored configuration.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	cfg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		s.logger.Info("no automation config stored, scheduler idle")
		return nil
	}
	return s.Apply(ctx, *cfg)
}

// Apply disposes any running timer and starts a new one when cfg asks for
// automation.
func (s *Scheduler) Apply(ctx context.Context, cfg domain.AutomationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(ctx)

	if !cfg.AutoRun {
		s.logger.Info("auto run disabled, scheduler idle")
		return nil
	}
	if _, _, err := domain.ParseScheduledTime(cfg.ScheduledTime); err != nil {
		s.logger.Warn("scheduled time invalid, scheduler idle", "scheduled_time", cfg.ScheduledTime, "error", err)
		return nil
	}
	if s.newTicker == nil {
		return errors.New("scheduler has no ticker driver")
	}

	ticker := s.newTicker()
	base := s.base
	if err := ticker.Start(base, func() { s.tick(base) }); err != nil {
		return err
	}
	s.ticker = ticker
	s.logger.Info("scheduler armed", "scheduled_time", cfg.ScheduledTime, "timezone", s.loc.String())
	return nil
}

// Stop disposes the timer.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	ticker := s.ticker
	s.ticker = nil
	s.mu.Unlock()

	if ticker == nil {
		return nil
	}
	return ticker.Stop(ctx)
}

// Active reports whether a timer is currently armed.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}

// Status evaluates the schedule against the stored configuration.
func (s *Scheduler) Status(ctx context.Context) (ScheduleStatus, error) {
	status := ScheduleStatus{Active: s.Active(), Timezone: s.loc.String()}

	cfg, err := s.store.Load(ctx)
	if err != nil {
		return status, err
	}
	if cfg == nil {
		return status, nil
	}

	current, _ := s.withLastRun(cfg.WithLegacyDefaults())
	if current.AutoRun && len(current.ActiveChannels) == 0 {
		status.Warnings = append(status.Warnings, WarnNoChannels)
	}
	now := s.now()
	status.Due = IsDue(current, now, s.loc)
	status.LastRunAt = current.LastRunAt
	if next, ok := NextRun(current, now, s.loc); ok {
		status.NextRun = &next
	}
	return status, nil
}

// stopLocked must not wait for a tick in progress: the tick may be a long
// backend call, and the old schedule is already cancelled once Stop returns.
func (s *Scheduler) stopLocked(ctx context.Context) {
	if s.ticker == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.ticker.Stop(stopCtx); err != nil {
		s.logger.Debug("previous tick still running", "error", err)
	}
	s.ticker = nil
}

func (s *Scheduler) tick(ctx context.Context) {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("load automation config", "error", err)
		return
	}
	if cfg == nil {
		return
	}

	current, lagging := s.withLastRun(cfg.WithLegacyDefaults())
	if lagging {
		if err := s.store.Save(ctx, current); err != nil {
			s.logger.Warn("persist last run", "last_run_at", current.LastRunAt, "error", err)
		} else {
			s.logger.Info("last run persisted", "last_run_at", current.LastRunAt)
		}
	}
	if !IsDue(current, s.now(), s.loc) {
		return
	}

	s.logger.Info("automated run due", "topic", current.Topic, "channels", current.ActiveChannels)
	if len(current.ActiveChannels) == 0 {
		s.logger.Warn("automated run has no active channels, report will not be delivered")
	}

	started := s.now().UTC()
	err = s.runner.RunAutomated(ctx, current)
	switch {
	case err == nil:
		s.runMu.Lock()
		s.lastRun = started
		s.runMu.Unlock()
	case errors.Is(err, domain.ErrRunInFlight):
		s.logger.Debug("run in flight, tick skipped")
	default:
		s.logger.Warn("automated run failed", "error", err)
	}
}

// withLastRun overlays the last automated run fired by this process when the
// store has not recorded it. The flag reports that the store lags behind.
func (s *Scheduler) withLastRun(cfg domain.AutomationConfig) (domain.AutomationConfig, bool) {
	s.runMu.Lock()
	last := s.lastRun
	s.runMu.Unlock()

	if last.IsZero() || (cfg.LastRunAt != nil && !cfg.LastRunAt.Before(last)) {
		return cfg, false
	}
	cfg.LastRunAt = &last
	return cfg, true
}
