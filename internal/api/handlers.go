package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"EnergyScout/internal/domain"
)

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AutomationConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	saved, err := s.settings.SaveConfig(r.Context(), cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.settings.Profile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile.Masked())
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var profile domain.UserProfile
	if err := decodeBody(r, &profile); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	current, err := s.settings.Profile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Echoing the masked key back keeps the stored one.
	if profile.APIKey != "" && profile.APIKey == current.Masked().APIKey {
		profile.APIKey = current.APIKey
	}

	if err := s.settings.SaveProfile(r.Context(), profile); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile.Masked())
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	status, err := s.schedule.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type handoffTestResponse struct {
	Outcome domain.Outcome `json:"outcome"`
	URI     string         `json:"uri"`
}

// testHandoff asks the configured surface to open an empty page so the user
// can tell whether automated hand-offs will reach them.
func (s *Server) testHandoff(w http.ResponseWriter, r *http.Request) {
	outcome := domain.OutcomeBlocked
	if s.surface != nil {
		outcome = s.surface.Attempt(r.Context(), HandoffTestURI)
	}
	if outcome == domain.OutcomeBlocked {
		s.logger.Warn("hand-off check blocked, automated deliveries will stay pending")
	}
	writeJSON(w, http.StatusOK, handoffTestResponse{Outcome: outcome, URI: HandoffTestURI})
}

type createRunRequest struct {
	Topic string `json:"topic"`
}

// createRun blocks until the manual run settles. The run is detached from the
// request so that a client disconnect does not cancel the backend call.
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		cfg, err := s.settings.Config(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		topic = cfg.Topic
	}

	if err := s.runner.RunManual(context.WithoutCancel(r.Context()), topic); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) currentRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) emailDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.runner.EmailDraft(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

type deliverRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request) {
	channel, err := domain.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req deliverRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	result, err := s.runner.Deliver(context.WithoutCancel(r.Context()), channel, strings.TrimSpace(req.Recipient))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type retryResponse struct {
	Results []domain.DeliveryResult `json:"results"`
	Pending []domain.PendingAction  `json:"pending"`
}

func (s *Server) retryPending(w http.ResponseWriter, r *http.Request) {
	results, err := s.runner.RetryPending(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{Results: results, Pending: s.runner.Snapshot().Pending})
}
