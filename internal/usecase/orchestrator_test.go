package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

type orchestratorFixture struct {
	store   *memStore
	backend *fakeBackend
	chat    *fakeDispatcher
	email   *fakeDispatcher
	clock   *fixedClock
	orch    *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{
		store: &memStore{},
		backend: &fakeBackend{
			result: domain.SearchResult{
				Text:    "news",
				Sources: []domain.Source{{Title: "A", URL: "https://a.example"}},
			},
			draft: domain.EmailDraft{Subject: "Brief", Body: "Body"},
		},
		chat:  &fakeDispatcher{channel: domain.ChannelChat},
		email: &fakeDispatcher{channel: domain.ChannelEmail},
		clock: &fixedClock{now: time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)},
	}
	f.orch = NewOrchestrator(OrchestratorDeps{
		Acquisition: NewAcquisition(AcquisitionDeps{Backend: f.backend, Now: f.clock.Now}),
		Dispatchers: fakeResolver{domain.ChannelChat: f.chat, domain.ChannelEmail: f.email},
		Store:       f.store,
		Timeout:     time.Second,
		Now:         f.clock.Now,
		NewID:       func() string { return "run-1" },
	})
	return f
}

func (f *orchestratorFixture) seed(cfg domain.AutomationConfig) domain.AutomationConfig {
	stored := cfg.Clone()
	f.store.cfg = &stored
	return cfg
}

func bothChannels() domain.AutomationConfig {
	return domain.AutomationConfig{
		Topic:          "Smart Meters Egypt",
		ScheduledTime:  "09:00",
		AutoRun:        true,
		ActiveChannels: []domain.Channel{domain.ChannelEmail, domain.ChannelChat},
		EmailAddress:   "analyst@example.com",
		ChatRecipient:  "+20 100",
	}
}

func TestRunAutomatedBlockedChatStillRecordsRun(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	f.chat.outcomes = []domain.Outcome{domain.OutcomeBlocked}

	if err := f.orch.RunAutomated(context.Background(), cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}

	stored, _ := f.store.snapshot()
	if stored.LastRunAt == nil || !stored.LastRunAt.Equal(f.clock.Now()) {
		t.Fatalf("lastRunAt not recorded: %+v", stored.LastRunAt)
	}

	snap := f.orch.Snapshot()
	if snap.State != domain.RunDone {
		t.Fatalf("expected done, got %s", snap.State)
	}
	pending := snap.PendingChannels()
	if len(pending) != 1 || pending[0] != domain.ChannelChat {
		t.Fatalf("expected pending {CHAT}, got %v", pending)
	}
	if snap.Pending[0].URI == "" || snap.Pending[0].Reason != reasonBlocked {
		t.Fatalf("pending action must carry uri and reason: %+v", snap.Pending[0])
	}
	if len(f.email.attempts()) != 1 {
		t.Fatal("email must still be attempted")
	}
}

func TestRunAutomatedDispatchOrderAndRecipients(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())

	var order []domain.Channel
	f.orch.dispatchers = orderedResolver{inner: fakeResolver{
		domain.ChannelChat:  f.chat,
		domain.ChannelEmail: f.email,
	}, order: &order}

	if err := f.orch.RunAutomated(context.Background(), cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}

	if len(order) != 2 || order[0] != domain.ChannelChat || order[1] != domain.ChannelEmail {
		t.Fatalf("expected CHAT before EMAIL, got %v", order)
	}

	chat := f.chat.attempts()[0]
	if chat.Recipient != "+20 100" || chat.Draft != nil {
		t.Fatalf("unexpected chat delivery %+v", chat)
	}
	email := f.email.attempts()[0]
	if email.Recipient != "analyst@example.com" || email.Draft == nil || email.Draft.Subject != "Brief" {
		t.Fatalf("unexpected email delivery %+v", email)
	}
	if len(f.orch.Snapshot().Pending) != 0 {
		t.Fatal("no pending actions expected when all channels opened")
	}
}

func TestRunAutomatedDraftFailureIsolated(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	f.backend.draftErr = errors.New("quota")

	if err := f.orch.RunAutomated(context.Background(), cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}

	if len(f.chat.attempts()) != 1 {
		t.Fatal("chat must be attempted despite the draft failure")
	}
	if len(f.email.attempts()) != 0 {
		t.Fatal("email dispatcher must not run without a draft")
	}

	snap := f.orch.Snapshot()
	if snap.State != domain.RunDone {
		t.Fatalf("expected done, got %s", snap.State)
	}
	if snap.Failures[domain.ChannelEmail] != "Failed to generate email draft." {
		t.Fatalf("unexpected failures %v", snap.Failures)
	}
	if pending := snap.PendingChannels(); len(pending) != 1 || pending[0] != domain.ChannelEmail {
		t.Fatalf("expected pending {EMAIL}, got %v", pending)
	}

	stored, _ := f.store.snapshot()
	if stored.LastRunAt == nil {
		t.Fatal("lastRunAt must advance when the report was produced")
	}
}

func TestRunAutomatedAcquisitionFailure(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	f.backend.searchErr = errors.New("network down")

	err := f.orch.RunAutomated(context.Background(), cfg)
	var acqErr *domain.AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}

	stored, saves := f.store.snapshot()
	if stored.LastRunAt != nil || saves != 0 {
		t.Fatal("lastRunAt must stay unchanged after a failed search")
	}

	snap := f.orch.Snapshot()
	if snap.State != domain.RunError {
		t.Fatalf("expected error state, got %s", snap.State)
	}
	if snap.Error != "Failed to fetch news. Please check your API key in settings." {
		t.Fatalf("unexpected message %q", snap.Error)
	}
	if f.orch.InFlight() {
		t.Fatal("guard must be released on error")
	}
	if len(f.chat.attempts())+len(f.email.attempts()) != 0 {
		t.Fatal("no dispatch after a failed search")
	}
}

func TestRunAutomatedKeepsConcurrentEdits(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := bothChannels()
	edited := cfg.Clone()
	edited.Topic = "Edited while running"
	f.seed(edited)

	if err := f.orch.RunAutomated(context.Background(), cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}

	stored, _ := f.store.snapshot()
	if stored.Topic != "Edited while running" || stored.LastRunAt == nil {
		t.Fatalf("lastRunAt must be written over the latest record: %+v", stored)
	}
}

func TestRunAutomatedStoreFailureStillDone(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	f.store.saveErr = errors.New("read-only")

	if err := f.orch.RunAutomated(context.Background(), cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}
	if f.orch.Snapshot().State != domain.RunDone {
		t.Fatal("a store failure must not turn the run into an error")
	}
}

func TestRunManualNeverDispatches(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	f.seed(bothChannels())

	if err := f.orch.RunManual(context.Background(), "Grid news"); err != nil {
		t.Fatalf("RunManual returned error: %v", err)
	}

	if len(f.chat.attempts())+len(f.email.attempts()) != 0 {
		t.Fatal("manual run must not dispatch")
	}
	stored, saves := f.store.snapshot()
	if stored.LastRunAt != nil || saves != 0 {
		t.Fatal("manual run must not record lastRunAt")
	}

	snap := f.orch.Snapshot()
	if snap.State != domain.RunDone || snap.Automated || snap.Report == nil || snap.Topic != "Grid news" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRunManualPassesThroughDispatching(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	var logs bytes.Buffer
	orch := NewOrchestrator(OrchestratorDeps{
		Acquisition: NewAcquisition(AcquisitionDeps{Backend: f.backend, Now: f.clock.Now}),
		Dispatchers: fakeResolver{domain.ChannelChat: f.chat, domain.ChannelEmail: f.email},
		Store:       f.store,
		Now:         f.clock.Now,
		Logger:      slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})

	if err := orch.RunManual(context.Background(), "Grid news"); err != nil {
		t.Fatalf("RunManual returned error: %v", err)
	}
	if !strings.Contains(logs.String(), "state=dispatching") {
		t.Fatalf("manual run must pass through dispatching, logs:\n%s", logs.String())
	}
	if orch.Snapshot().State != domain.RunDone || len(f.chat.attempts())+len(f.email.attempts()) != 0 {
		t.Fatal("manual run must stop at done without dispatching")
	}
}

func TestRunReentrancyIsNoop(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	f.backend.searchGate = make(chan struct{})
	f.backend.searching = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- f.orch.RunManual(context.Background(), "first") }()
	<-f.backend.searching

	before := f.orch.Snapshot()
	_, savesBefore := f.store.snapshot()

	if err := f.orch.RunAutomated(context.Background(), cfg); !errors.Is(err, domain.ErrRunInFlight) {
		t.Fatalf("expected ErrRunInFlight, got %v", err)
	}
	if err := f.orch.RunManual(context.Background(), "second"); !errors.Is(err, domain.ErrRunInFlight) {
		t.Fatalf("expected ErrRunInFlight, got %v", err)
	}

	after := f.orch.Snapshot()
	if after.State != before.State || after.Topic != "first" || after.ID != before.ID {
		t.Fatalf("second trigger changed the run: %+v", after)
	}
	if !f.orch.InFlight() {
		t.Fatal("guard must still be held")
	}
	stored, savesAfter := f.store.snapshot()
	if savesAfter != savesBefore || stored.LastRunAt != nil {
		t.Fatal("second trigger must not touch the store")
	}

	close(f.backend.searchGate)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if search, _ := f.backend.calls(); search != 1 {
		t.Fatalf("expected a single search, got %d", search)
	}
}

func TestReportOperationsRequireReport(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	ctx := context.Background()

	if _, err := f.orch.EmailDraft(ctx); !errors.Is(err, domain.ErrNoReport) {
		t.Fatalf("EmailDraft: expected ErrNoReport, got %v", err)
	}
	if _, err := f.orch.Deliver(ctx, domain.ChannelChat, ""); !errors.Is(err, domain.ErrNoReport) {
		t.Fatalf("Deliver: expected ErrNoReport, got %v", err)
	}
	if _, err := f.orch.RetryPending(ctx); !errors.Is(err, domain.ErrNoReport) {
		t.Fatalf("RetryPending: expected ErrNoReport, got %v", err)
	}
	if _, err := f.orch.Deliver(ctx, domain.Channel("SMS"), ""); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Fatalf("Deliver: expected ErrUnknownChannel, got %v", err)
	}
}

func TestEmailDraftIsCachedPerRun(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	ctx := context.Background()

	if err := f.orch.RunAutomated(ctx, cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}

	draft, err := f.orch.EmailDraft(ctx)
	if err != nil {
		t.Fatalf("EmailDraft returned error: %v", err)
	}
	if draft.Subject != "Brief" {
		t.Fatalf("unexpected draft %+v", draft)
	}
	if _, drafts := f.backend.calls(); drafts != 1 {
		t.Fatalf("draft must be requested once per run, got %d", drafts)
	}
	if !f.orch.Snapshot().HasDraft {
		t.Fatal("snapshot must report the cached draft")
	}

	// A new run drops the cached draft.
	if err := f.orch.RunManual(ctx, "again"); err != nil {
		t.Fatalf("RunManual returned error: %v", err)
	}
	if _, err := f.orch.EmailDraft(ctx); err != nil {
		t.Fatalf("EmailDraft returned error: %v", err)
	}
	if _, drafts := f.backend.calls(); drafts != 2 {
		t.Fatalf("new run must draft again, got %d", drafts)
	}
}

func TestRetryPendingReusesReport(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	f.chat.outcomes = []domain.Outcome{domain.OutcomeBlocked, domain.OutcomeOpened}
	f.email.outcomes = []domain.Outcome{domain.OutcomeBlocked, domain.OutcomeBlocked}
	ctx := context.Background()

	if err := f.orch.RunAutomated(ctx, cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}
	stored, saves := f.store.snapshot()
	lastRun := *stored.LastRunAt

	f.clock.Set(f.clock.Now().Add(time.Hour))
	results, err := f.orch.RetryPending(ctx)
	if err != nil {
		t.Fatalf("RetryPending returned error: %v", err)
	}
	if len(results) != 2 || results[0].Outcome != domain.OutcomeOpened || results[1].Outcome != domain.OutcomeBlocked {
		t.Fatalf("unexpected results %+v", results)
	}

	pending := f.orch.Snapshot().PendingChannels()
	if len(pending) != 1 || pending[0] != domain.ChannelEmail {
		t.Fatalf("expected pending {EMAIL}, got %v", pending)
	}
	if search, drafts := f.backend.calls(); search != 1 || drafts != 1 {
		t.Fatalf("retry must not query the backend again: search=%d draft=%d", search, drafts)
	}
	stored, savesAfter := f.store.snapshot()
	if savesAfter != saves || !stored.LastRunAt.Equal(lastRun) {
		t.Fatal("retry must not touch lastRunAt")
	}
}

func TestDeliverManualOverrideClearsPending(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	cfg := f.seed(bothChannels())
	f.chat.outcomes = []domain.Outcome{domain.OutcomeBlocked, domain.OutcomeOpened}
	ctx := context.Background()

	if err := f.orch.RunAutomated(ctx, cfg); err != nil {
		t.Fatalf("RunAutomated returned error: %v", err)
	}
	_, saves := f.store.snapshot()

	result, err := f.orch.Deliver(ctx, domain.ChannelChat, "+1 555")
	if err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if result.Outcome != domain.OutcomeOpened {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	attempts := f.chat.attempts()
	if attempts[len(attempts)-1].Recipient != "+1 555" {
		t.Fatal("override recipient must be used")
	}
	if len(f.orch.Snapshot().Pending) != 0 {
		t.Fatal("opened delivery must clear the pending action")
	}
	if _, savesAfter := f.store.snapshot(); savesAfter != saves {
		t.Fatal("manual delivery must not touch the store")
	}
}

func TestDeliverAfterManualRunUsesStoredRecipient(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t)
	f.seed(bothChannels())
	ctx := context.Background()

	if err := f.orch.RunManual(ctx, "grid"); err != nil {
		t.Fatalf("RunManual returned error: %v", err)
	}
	result, err := f.orch.Deliver(ctx, domain.ChannelEmail, "")
	if err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if result.Outcome != domain.OutcomeOpened {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	if got := f.email.attempts()[0].Recipient; got != "analyst@example.com" {
		t.Fatalf("unexpected recipient %q", got)
	}
}

type orderedResolver struct {
	inner fakeResolver
	order *[]domain.Channel
}

func (r orderedResolver) Resolve(channel domain.Channel) (ports.Dispatcher, error) {
	*r.order = append(*r.order, channel)
	return r.inner.Resolve(channel)
}
