package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

const (
	configRecord  = "automation_config"
	profileRecord = "user_profile"
)

// RecordStore implements the configuration and profile stores on top of KV.
type RecordStore struct {
	kv     *KV
	logger *slog.Logger
}

var (
	_ ports.ConfigStore  = (*RecordStore)(nil)
	_ ports.ProfileStore = (*RecordStore)(nil)
)

// NewRecordStore wires the key-value backend.
func NewRecordStore(kv *KV, logger *slog.Logger) *RecordStore {
	return &RecordStore{kv: kv, logger: logger}
}

// Load returns the automation config, or nil when none is stored or the stored
// record is corrupt.
func (s *RecordStore) Load(ctx context.Context) (*domain.AutomationConfig, error) {
	var cfg domain.AutomationConfig
	found, err := s.read(ctx, configRecord, &cfg)
	if err != nil || !found {
		return nil, err
	}
	return &cfg, nil
}

// Save fully replaces the stored automation config.
func (s *RecordStore) Save(ctx context.Context, cfg domain.AutomationConfig) error {
	if cfg.ActiveChannels == nil {
		cfg.ActiveChannels = []domain.Channel{}
	}
	return s.write(ctx, configRecord, cfg)
}

// LoadProfile returns the user profile with the same fail-soft contract as Load.
func (s *RecordStore) LoadProfile(ctx context.Context) (*domain.UserProfile, error) {
	var profile domain.UserProfile
	found, err := s.read(ctx, profileRecord, &profile)
	if err != nil || !found {
		return nil, err
	}
	return &profile, nil
}

// SaveProfile fully replaces the stored user profile.
func (s *RecordStore) SaveProfile(ctx context.Context, profile domain.UserProfile) error {
	return s.write(ctx, profileRecord, profile)
}

func (s *RecordStore) read(ctx context.Context, name string, v any) (bool, error) {
	raw, found, err := s.kv.Get(ctx, name)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", name, err)
	}
	if !found {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		parseErr := &domain.ConfigParseError{Record: name, Err: err}
		s.warn("stored record is corrupt, treating as absent", "record", name, "error", parseErr)
		return false, nil
	}
	return true, nil
}

func (s *RecordStore) write(ctx context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := s.kv.Put(ctx, name, raw); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *RecordStore) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
