package ports

import (
	"context"

	"EnergyScout/internal/domain"
)

// ConfigStore persists the automation configuration record. Load returns nil
// without error when the record is absent or unreadable.
type ConfigStore interface {
	Load(ctx context.Context) (*domain.AutomationConfig, error)
	Save(ctx context.Context, cfg domain.AutomationConfig) error
}

// ProfileStore persists the user credential profile with the same contract.
type ProfileStore interface {
	LoadProfile(ctx context.Context) (*domain.UserProfile, error)
	SaveProfile(ctx context.Context, profile domain.UserProfile) error
}

// ReportBackend is the external generative search service.
type ReportBackend interface {
	Search(ctx context.Context, topic string) (domain.SearchResult, error)
	DraftEmail(ctx context.Context, reportText string) (domain.EmailDraft, error)
}

// HandoffSurface asks the host environment to open a composed-message URI.
type HandoffSurface interface {
	Attempt(ctx context.Context, uri string) domain.Outcome
}

// Dispatcher hands a finished report off to one channel.
type Dispatcher interface {
	Channel() domain.Channel
	Attempt(ctx context.Context, delivery domain.Delivery) (domain.Outcome, string, error)
}

// Ticker drives recurring jobs on a fixed period.
type Ticker interface {
	Start(ctx context.Context, job func()) error
	Stop(ctx context.Context) error
}
