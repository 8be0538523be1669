package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
	"EnergyScout/internal/usecase"
)

// HandoffTestURI is opened by the hand-off check. It shows an empty page.
const HandoffTestURI = "about:blank"

// Runner is the run orchestrator as seen by the API.
type Runner interface {
	RunManual(ctx context.Context, topic string) error
	Snapshot() domain.RunSnapshot
	EmailDraft(ctx context.Context) (domain.EmailDraft, error)
	Deliver(ctx context.Context, channel domain.Channel, override string) (domain.DeliveryResult, error)
	RetryPending(ctx context.Context) ([]domain.DeliveryResult, error)
}

// SettingsService reads and replaces the stored records.
type SettingsService interface {
	Config(ctx context.Context) (domain.AutomationConfig, error)
	SaveConfig(ctx context.Context, cfg domain.AutomationConfig) (domain.AutomationConfig, error)
	Profile(ctx context.Context) (domain.UserProfile, error)
	SaveProfile(ctx context.Context, profile domain.UserProfile) error
}

// ScheduleReporter evaluates the daily schedule.
type ScheduleReporter interface {
	Status(ctx context.Context) (usecase.ScheduleStatus, error)
}

// Server exposes the control API.
type Server struct {
	runner   Runner
	settings SettingsService
	schedule ScheduleReporter
	surface  ports.HandoffSurface
	logger   *slog.Logger
}

// NewServer wires the use cases behind the HTTP handlers.
func NewServer(runner Runner, settings SettingsService, schedule ScheduleReporter, surface ports.HandoffSurface, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		runner:   runner,
		settings: settings,
		schedule: schedule,
		surface:  surface,
		logger:   logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.getConfig)
		r.Put("/config", s.putConfig)
		r.Get("/profile", s.getProfile)
		r.Put("/profile", s.putProfile)
		r.Get("/schedule", s.getSchedule)
		r.Post("/handoff/test", s.testHandoff)

		r.Post("/runs", s.createRun)
		r.Get("/runs/current", s.currentRun)
		r.Get("/runs/current/email-draft", s.emailDraft)
		r.Post("/runs/current/deliveries/retry", s.retryPending)
		r.Post("/runs/current/deliveries/{channel}", s.deliver)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeError maps domain errors to status codes. The body only ever carries
// the user-facing message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: domain.UserMessage(err)})
}

func statusFor(err error) int {
	var (
		acq   *domain.AcquisitionError
		draft *domain.DraftingError
	)
	switch {
	case errors.Is(err, domain.ErrRunInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoReport), errors.Is(err, domain.ErrNoConfig):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrUnknownChannel):
		return http.StatusBadRequest
	case errors.As(err, &acq), errors.As(err, &draft):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
