package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

const (
	reasonBlocked = "blocked"
	reasonFailed  = "failed"

	defaultBackendTimeout = 90 * time.Second
)

// DispatcherResolver looks up the dispatcher for a channel.
type DispatcherResolver interface {
	Resolve(channel domain.Channel) (ports.Dispatcher, error)
}

// OrchestratorDeps wires all collaborators of a run.
type OrchestratorDeps struct {
	Acquisition *Acquisition
	Dispatchers DispatcherResolver
	Store       ports.ConfigStore
	Timeout     time.Duration
	Now         func() time.Time
	NewID       func() string
	Logger      *slog.Logger
}

// Orchestrator drives one run at a time through search and channel dispatch.
type Orchestrator struct {
	acquisition *Acquisition
	dispatchers DispatcherResolver
	store       ports.ConfigStore
	timeout     time.Duration
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger

	mu       sync.Mutex
	inFlight bool
	run      currentRun
}

type currentRun struct {
	id         string
	state      domain.RunState
	automated  bool
	topic      string
	cfg        *domain.AutomationConfig
	report     *domain.Report
	draft      *domain.EmailDraft
	pending    []domain.PendingAction
	failures   map[domain.Channel]string
	err        string
	startedAt  time.Time
	finishedAt time.Time
}

// NewOrchestrator constructs an idle orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		acquisition: deps.Acquisition,
		dispatchers: deps.Dispatchers,
		store:       deps.Store,
		timeout:     deps.Timeout,
		now:         deps.Now,
		newID:       deps.NewID,
		logger:      deps.Logger,
		run:         currentRun{state: domain.RunIdle},
	}
	if o.timeout <= 0 {
		o.timeout = defaultBackendTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// RunManual searches topic and presents the report. Manual runs never
// dispatch and never record lastRunAt.
func (o *Orchestrator) RunManual(ctx context.Context, topic string) error {
	if err := o.begin(topic, false, nil); err != nil {
		return err
	}
	defer o.release()

	if _, err := o.search(ctx, topic); err != nil {
		return err
	}

	// Dispatching with an empty channel set: the report is only presented.
	o.setState(domain.RunDispatching)
	o.finish()
	return nil
}

// RunAutomated searches cfg.Topic, hands the report to every active channel
// and records the run for the day.
func (o *Orchestrator) RunAutomated(ctx context.Context, cfg domain.AutomationConfig) error {
	cfg = cfg.WithLegacyDefaults()
	if err := o.begin(cfg.Topic, true, &cfg); err != nil {
		return err
	}
	defer o.release()

	report, err := o.search(ctx, cfg.Topic)
	if err != nil {
		return err
	}

	o.setState(domain.RunDispatching)
	for _, channel := range cfg.ActiveChannels {
		result := o.deliver(ctx, report, channel, recipientFor(cfg, channel))
		o.logger.Info("channel dispatched",
			"run_id", o.runID(),
			"channel", channel,
			"outcome", result.Outcome,
			"error", result.Error,
		)
	}

	o.recordRun(ctx, cfg)
	o.finish()
	return nil
}

// EmailDraft returns the run's draft, drafting it once if needed.
func (o *Orchestrator) EmailDraft(ctx context.Context) (domain.EmailDraft, error) {
	report, err := o.beginOp()
	if err != nil {
		return domain.EmailDraft{}, err
	}
	defer o.release()

	return o.draft(ctx, report)
}

// Deliver hands the current report to one channel on user request. override
// replaces the configured recipient when set. lastRunAt is not touched.
func (o *Orchestrator) Deliver(ctx context.Context, channel domain.Channel, override string) (domain.DeliveryResult, error) {
	if !channel.Known() {
		return domain.DeliveryResult{}, fmt.Errorf("deliver %q: %w", channel, domain.ErrUnknownChannel)
	}
	report, err := o.beginOp()
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	defer o.release()

	recipient := override
	if recipient == "" {
		recipient = recipientFor(o.latestConfig(ctx), channel)
	}
	return o.deliver(ctx, report, channel, recipient), nil
}

// RetryPending re-attempts every pending channel with the same report.
func (o *Orchestrator) RetryPending(ctx context.Context) ([]domain.DeliveryResult, error) {
	report, err := o.beginOp()
	if err != nil {
		return nil, err
	}
	defer o.release()

	o.mu.Lock()
	pending := append([]domain.PendingAction(nil), o.run.pending...)
	o.mu.Unlock()

	cfg := o.latestConfig(ctx)
	results := make([]domain.DeliveryResult, 0, len(pending))
	for _, action := range pending {
		results = append(results, o.deliver(ctx, report, action.Channel, recipientFor(cfg, action.Channel)))
	}
	return results, nil
}

// Snapshot returns a copy of the current run.
func (o *Orchestrator) Snapshot() domain.RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	run := o.run
	snap := domain.RunSnapshot{
		ID:        run.id,
		State:     run.state,
		Automated: run.automated,
		Topic:     run.topic,
		HasDraft:  run.draft != nil,
		Pending:   append([]domain.PendingAction{}, run.pending...),
		Error:     run.err,
	}
	if run.report != nil {
		report := *run.report
		report.Sources = append([]domain.Source(nil), run.report.Sources...)
		snap.Report = &report
	}
	if len(run.failures) > 0 {
		snap.Failures = make(map[domain.Channel]string, len(run.failures))
		for ch, msg := range run.failures {
			snap.Failures[ch] = msg
		}
	}
	if !run.startedAt.IsZero() {
		started := run.startedAt
		snap.StartedAt = &started
	}
	if !run.finishedAt.IsZero() {
		finished := run.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

// InFlight reports whether a run or report operation holds the guard.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

func (o *Orchestrator) begin(topic string, automated bool, cfg *domain.AutomationConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight {
		return domain.ErrRunInFlight
	}
	o.inFlight = true
	o.run = currentRun{
		id:        o.newID(),
		state:     domain.RunSearching,
		automated: automated,
		topic:     topic,
		cfg:       cfg,
		failures:  map[domain.Channel]string{},
		startedAt: o.now().UTC(),
	}
	o.logger.Info("run started", "run_id", o.run.id, "automated", automated, "topic", topic)
	return nil
}

func (o *Orchestrator) beginOp() (domain.Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight {
		return domain.Report{}, domain.ErrRunInFlight
	}
	if o.run.report == nil {
		return domain.Report{}, domain.ErrNoReport
	}
	o.inFlight = true
	return *o.run.report, nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

func (o *Orchestrator) search(ctx context.Context, topic string) (domain.Report, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	report, err := o.acquisition.FetchReport(callCtx, topic)
	if err != nil {
		o.mu.Lock()
		o.run.state = domain.RunError
		o.run.err = domain.UserMessage(err)
		o.run.finishedAt = o.now().UTC()
		id := o.run.id
		o.mu.Unlock()

		o.logger.Error("run failed", "run_id", id, "error", err)
		return domain.Report{}, err
	}

	o.mu.Lock()
	o.run.report = &report
	o.mu.Unlock()
	return report, nil
}

func (o *Orchestrator) draft(ctx context.Context, report domain.Report) (domain.EmailDraft, error) {
	o.mu.Lock()
	cached := o.run.draft
	o.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	draft, err := o.acquisition.FetchEmailDraft(callCtx, report.BodyText)
	if err != nil {
		return domain.EmailDraft{}, err
	}

	o.mu.Lock()
	o.run.draft = &draft
	o.mu.Unlock()
	return draft, nil
}

// deliver attempts one channel and folds the result into the pending set. A
// failure is recorded, never returned, so that other channels still run.
func (o *Orchestrator) deliver(ctx context.Context, report domain.Report, channel domain.Channel, recipient string) domain.DeliveryResult {
	result := domain.DeliveryResult{Channel: channel}

	outcome, uri, err := o.attempt(ctx, report, channel, recipient)
	result.Outcome, result.URI = outcome, uri
	if err != nil {
		result.Error = domain.UserMessage(err)
		o.logger.Warn("delivery failed", "run_id", o.runID(), "channel", channel, "error", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run.failures == nil {
		o.run.failures = map[domain.Channel]string{}
	}
	switch {
	case err != nil:
		o.run.failures[channel] = result.Error
		o.upsertPendingLocked(domain.PendingAction{Channel: channel, URI: uri, Reason: reasonFailed})
	case outcome == domain.OutcomeBlocked:
		delete(o.run.failures, channel)
		o.upsertPendingLocked(domain.PendingAction{Channel: channel, URI: uri, Reason: reasonBlocked})
	default:
		delete(o.run.failures, channel)
		o.removePendingLocked(channel)
	}
	return result
}

func (o *Orchestrator) attempt(ctx context.Context, report domain.Report, channel domain.Channel, recipient string) (domain.Outcome, string, error) {
	dispatcher, err := o.dispatchers.Resolve(channel)
	if err != nil {
		return "", "", err
	}

	delivery := domain.Delivery{Report: report, Recipient: recipient}
	if channel == domain.ChannelEmail {
		draft, err := o.draft(ctx, report)
		if err != nil {
			return "", "", err
		}
		delivery.Draft = &draft
	}

	return dispatcher.Attempt(ctx, delivery)
}

func (o *Orchestrator) upsertPendingLocked(action domain.PendingAction) {
	for i, existing := range o.run.pending {
		if existing.Channel == action.Channel {
			o.run.pending[i] = action
			return
		}
	}
	o.run.pending = append(o.run.pending, action)
}

func (o *Orchestrator) removePendingLocked(channel domain.Channel) {
	kept := o.run.pending[:0]
	for _, action := range o.run.pending {
		if action.Channel != channel {
			kept = append(kept, action)
		}
	}
	o.run.pending = kept
}

// recordRun writes lastRunAt on top of the latest stored record so that
// edits made during the run are kept.
func (o *Orchestrator) recordRun(ctx context.Context, cfg domain.AutomationConfig) {
	record := cfg
	if stored, err := o.store.Load(ctx); err != nil {
		o.logger.Warn("load automation config before recording run", "error", err)
	} else if stored != nil {
		record = stored.WithLegacyDefaults()
	}

	now := o.now().UTC()
	record.LastRunAt = &now
	if err := o.store.Save(ctx, record); err != nil {
		o.logger.Error("record automated run", "run_id", o.runID(), "error", err)
	}
}

func (o *Orchestrator) latestConfig(ctx context.Context) domain.AutomationConfig {
	if o.store != nil {
		if cfg, err := o.store.Load(ctx); err == nil && cfg != nil {
			return *cfg
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.cfg != nil {
		return *o.run.cfg
	}
	return domain.AutomationConfig{}
}

func (o *Orchestrator) setState(state domain.RunState) {
	o.mu.Lock()
	o.run.state = state
	id := o.run.id
	o.mu.Unlock()

	o.logger.Debug("run state changed", "run_id", id, "state", state)
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.run.state = domain.RunDone
	o.run.finishedAt = o.now().UTC()
	id, pending := o.run.id, len(o.run.pending)
	o.mu.Unlock()

	o.logger.Info("run finished", "run_id", id, "pending", pending)
}

func (o *Orchestrator) runID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.id
}

func recipientFor(cfg domain.AutomationConfig, channel domain.Channel) string {
	switch channel {
	case domain.ChannelEmail:
		return cfg.EmailAddress
	case domain.ChannelChat:
		return cfg.ChatRecipient
	default:
		return ""
	}
}
