package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"EnergyScout/internal/api"
	"EnergyScout/internal/config"
	"EnergyScout/internal/dispatch"
	"EnergyScout/internal/infrastructure/handoff"
	"EnergyScout/internal/infrastructure/llm"
	"EnergyScout/internal/infrastructure/scheduler"
	"EnergyScout/internal/infrastructure/storage"
	"EnergyScout/internal/logging"
	"EnergyScout/internal/ports"
	"EnergyScout/internal/usecase"
	"EnergyScout/pkg/logger"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	scheduler *usecase.Scheduler
	server    *http.Server
}

// New opens storage and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	store := storage.NewRecordStore(storage.NewKV(db, cfg.Storage.Driver), baseLogger.With("component", "storage"))

	surface, err := handoff.New(cfg.Handoff.Surface, baseLogger.With("component", "handoff"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := dispatch.NewRegistry()
	registry.Register(dispatch.NewChatDispatcher(cfg.Handoff.ChatProvider, surface))
	registry.Register(dispatch.NewEmailDispatcher(surface))

	settings := usecase.NewSettings(usecase.SettingsDeps{
		Configs:     store,
		Profiles:    store,
		FallbackKey: cfg.Gemini.APIKey,
		Logger:      baseLogger.With("component", "settings"),
	})

	backend := llm.NewGeminiClient(cfg.Gemini, settings.APIKey)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Acquisition: usecase.NewAcquisition(usecase.AcquisitionDeps{Backend: backend}),
		Dispatchers: registry,
		Store:       store,
		Timeout:     cfg.Gemini.Timeout,
		Logger:      baseLogger.With("component", "orchestrator"),
	})

	cronLogger := baseLogger.With("component", "cron")
	sched := usecase.NewScheduler(usecase.SchedulerDeps{
		NewTicker: func() ports.Ticker {
			return scheduler.NewCronTicker(cfg.Scheduler.Interval, cronLogger)
		},
		Store:    store,
		Runner:   orchestrator,
		Location: cfg.Scheduler.Location(),
		Logger:   baseLogger.With("component", "scheduler"),
	})
	settings.SetScheduler(sched)

	router := api.NewServer(orchestrator, settings, sched, surface, baseLogger.With("component", "api")).Router()
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2*cfg.Gemini.Timeout + 30*time.Second,
		ErrorLog:          logger.New(baseLogger, "http"),
	}

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		scheduler: sched,
		server:    server,
	}, nil
}

// Run arms the scheduler and serves the control API until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("control api listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("serve http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler shutdown", "error", err)
	}

	return runErr
}

// Close releases storage.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
