package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

type memStore struct {
	mu      sync.Mutex
	cfg     *domain.AutomationConfig
	profile *domain.UserProfile
	saves   int
	loadErr error
	saveErr error
}

func (s *memStore) Load(context.Context) (*domain.AutomationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.cfg == nil {
		return nil, nil
	}
	cfg := s.cfg.Clone()
	return &cfg, nil
}

func (s *memStore) Save(_ context.Context, cfg domain.AutomationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	stored := cfg.Clone()
	s.cfg = &stored
	s.saves++
	return nil
}

func (s *memStore) LoadProfile(context.Context) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return nil, nil
	}
	p := *s.profile
	return &p, nil
}

func (s *memStore) SaveProfile(_ context.Context, profile domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &profile
	return nil
}

func (s *memStore) snapshot() (*domain.AutomationConfig, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil, s.saves
	}
	cfg := s.cfg.Clone()
	return &cfg, s.saves
}

type fakeBackend struct {
	mu          sync.Mutex
	result      domain.SearchResult
	searchErr   error
	draft       domain.EmailDraft
	draftErr    error
	searchCalls int
	draftCalls  int
	searchGate  chan struct{}
	searching   chan struct{}
}

func (b *fakeBackend) Search(ctx context.Context, topic string) (domain.SearchResult, error) {
	b.mu.Lock()
	b.searchCalls++
	gate, started := b.searchGate, b.searching
	b.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.SearchResult{}, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result, b.searchErr
}

func (b *fakeBackend) DraftEmail(context.Context, string) (domain.EmailDraft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.draftCalls++
	return b.draft, b.draftErr
}

func (b *fakeBackend) calls() (search, draft int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.searchCalls, b.draftCalls
}

type fakeDispatcher struct {
	channel domain.Channel

	mu         sync.Mutex
	outcomes   []domain.Outcome
	err        error
	deliveries []domain.Delivery
}

func (d *fakeDispatcher) Channel() domain.Channel { return d.channel }

func (d *fakeDispatcher) Attempt(_ context.Context, delivery domain.Delivery) (domain.Outcome, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	if d.err != nil {
		return "", "", d.err
	}
	outcome := domain.OutcomeOpened
	if len(d.outcomes) > 0 {
		outcome = d.outcomes[0]
		if len(d.outcomes) > 1 {
			d.outcomes = d.outcomes[1:]
		}
	}
	return outcome, fmt.Sprintf("%s://%s", d.channel, delivery.Recipient), nil
}

func (d *fakeDispatcher) attempts() []domain.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Delivery(nil), d.deliveries...)
}

type fakeResolver map[domain.Channel]ports.Dispatcher

func (r fakeResolver) Resolve(channel domain.Channel) (ports.Dispatcher, error) {
	if d, ok := r[channel]; ok {
		return d, nil
	}
	return nil, errors.New("not registered")
}

type fakeTicker struct {
	mu      sync.Mutex
	job     func()
	started bool
	stopped bool
}

func (t *fakeTicker) Start(_ context.Context, job func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job = job
	t.started = true
	return nil
}

func (t *fakeTicker) Stop(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *fakeTicker) fire() {
	t.mu.Lock()
	job := t.job
	t.mu.Unlock()
	if job != nil {
		job()
	}
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
