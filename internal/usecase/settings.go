package usecase

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

// ScheduleApplier re-arms the timer after a configuration change.
type ScheduleApplier interface {
	Apply(ctx context.Context, cfg domain.AutomationConfig) error
}

// SettingsDeps wires persistence and the scheduler.
type SettingsDeps struct {
	Configs     ports.ConfigStore
	Profiles    ports.ProfileStore
	Scheduler   ScheduleApplier
	FallbackKey string
	Logger      *slog.Logger
}

// Settings reads and replaces the automation config and the user profile.
type Settings struct {
	configs     ports.ConfigStore
	profiles    ports.ProfileStore
	scheduler   ScheduleApplier
	fallbackKey string
	logger      *slog.Logger
}

// NewSettings constructs the settings service.
func NewSettings(deps SettingsDeps) *Settings {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Settings{
		configs:     deps.Configs,
		profiles:    deps.Profiles,
		scheduler:   deps.Scheduler,
		fallbackKey: strings.TrimSpace(deps.FallbackKey),
		logger:      logger,
	}
}

// SetScheduler attaches the scheduler after construction; the scheduler's
// runner depends on the API key lookup provided here.
func (s *Settings) SetScheduler(scheduler ScheduleApplier) {
	s.scheduler = scheduler
}

// Config returns the stored config with legacy fields filled, or
// domain.ErrNoConfig when setup has not happened yet.
func (s *Settings) Config(ctx context.Context) (domain.AutomationConfig, error) {
	cfg, err := s.configs.Load(ctx)
	if err != nil {
		return domain.AutomationConfig{}, err
	}
	if cfg == nil {
		return domain.AutomationConfig{}, domain.ErrNoConfig
	}
	return cfg.WithLegacyDefaults(), nil
}

// SaveConfig validates and stores cfg as a whole record, then re-arms the
// scheduler. The stored lastRunAt is kept unless cfg carries one.
func (s *Settings) SaveConfig(ctx context.Context, cfg domain.AutomationConfig) (domain.AutomationConfig, error) {
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	cfg.ScheduledTime = strings.TrimSpace(cfg.ScheduledTime)
	cfg.EmailAddress = strings.TrimSpace(cfg.EmailAddress)
	cfg.ChatRecipient = strings.TrimSpace(cfg.ChatRecipient)
	cfg = cfg.WithLegacyDefaults()

	if err := cfg.Validate(); err != nil {
		return domain.AutomationConfig{}, err
	}

	if cfg.LastRunAt == nil {
		stored, err := s.configs.Load(ctx)
		if err != nil {
			return domain.AutomationConfig{}, err
		}
		if stored != nil {
			cfg.LastRunAt = stored.LastRunAt
		}
	}

	if err := s.configs.Save(ctx, cfg); err != nil {
		return domain.AutomationConfig{}, err
	}
	s.logger.Info("automation config saved",
		"topic", cfg.Topic,
		"auto_run", cfg.AutoRun,
		"scheduled_time", cfg.ScheduledTime,
		"channels", cfg.ActiveChannels,
	)
	if cfg.AutoRun && len(cfg.ActiveChannels) == 0 {
		s.logger.Warn("auto run enabled without delivery channels")
	}

	if s.scheduler != nil {
		if err := s.scheduler.Apply(ctx, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Profile returns the stored profile, empty when none exists.
func (s *Settings) Profile(ctx context.Context) (domain.UserProfile, error) {
	profile, err := s.profiles.LoadProfile(ctx)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if profile == nil {
		return domain.UserProfile{}, nil
	}
	return *profile, nil
}

// SaveProfile replaces the stored profile.
func (s *Settings) SaveProfile(ctx context.Context, profile domain.UserProfile) error {
	profile.Name = strings.TrimSpace(profile.Name)
	profile.APIKey = strings.TrimSpace(profile.APIKey)
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return err
	}
	s.logger.Info("user profile saved", "has_api_key", profile.APIKey != "")
	return nil
}

// APIKey prefers the user's own key over the deployment key.
func (s *Settings) APIKey(ctx context.Context) string {
	profile, err := s.profiles.LoadProfile(ctx)
	if err != nil {
		s.logger.Warn("load user profile", "error", err)
	}
	if profile != nil && strings.TrimSpace(profile.APIKey) != "" {
		return strings.TrimSpace(profile.APIKey)
	}
	return s.fallbackKey
}
