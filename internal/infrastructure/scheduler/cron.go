package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"EnergyScout/internal/ports"
)

// CronTicker runs a job on a fixed period with robfig/cron.
type CronTicker struct {
	spec   string
	logger cron.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	stopped chan struct{}
}

var _ ports.Ticker = (*CronTicker)(nil)

// NewCronTicker builds a ticker firing every interval.
func NewCronTicker(interval time.Duration, logger *slog.Logger) *CronTicker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &CronTicker{
		spec:   fmt.Sprintf("@every %s", interval),
		logger: NewCronLogger(logger),
	}
}

// Start registers the job and begins ticking. Overlapping runs are skipped.
// The ticker stops on its own when ctx is cancelled.
func (c *CronTicker) Start(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron != nil {
		return nil
	}

	cr := cron.New(
		cron.WithLogger(c.logger),
		cron.WithChain(cron.Recover(c.logger), cron.SkipIfStillRunning(c.logger)),
	)
	if _, err := cr.AddFunc(c.spec, job); err != nil {
		return fmt.Errorf("add cron job %q: %w", c.spec, err)
	}
	cr.Start()
	stopped := make(chan struct{})
	c.cron = cr
	c.stopped = stopped

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop(context.Background())
		case <-stopped:
		}
	}()

	return nil
}

// Stop halts the schedule and waits for a running job or ctx, whichever is first.
func (c *CronTicker) Stop(ctx context.Context) error {
	c.mu.Lock()
	cr, stopped := c.cron, c.stopped
	c.cron, c.stopped = nil, nil
	c.mu.Unlock()

	if cr == nil {
		return nil
	}
	close(stopped)

	select {
	case <-cr.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the schedule is active.
func (c *CronTicker) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cron != nil
}

type cronLogger struct {
	logger *slog.Logger
}

// NewCronLogger adapts slog to the cron.Logger interface. Routine scheduler
// chatter goes to debug.
func NewCronLogger(logger *slog.Logger) cron.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
