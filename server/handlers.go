package server

import (
	"context"
	"errors"
	"net/http"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/coordinator"
	"github.com/wolfeidau/cache-purge/telemetry"
	"github.com/wolfeidau/cache-purge/trigger"
	"github.com/wolfeidau/cache-purge/uapi"
)

type settingsRequest struct {
	SelectivePurgeEnabled *bool `json:"selective_purge_enabled" validate:"required"`
}

type purgeURLsRequest struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,required"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "status")
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Status(r.Context()))
}

func (s *Server) handleRecheck(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "status_recheck")
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Recheck(r.Context()))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_get")
	st, err := s.deps.Settings.GetSettings(r.Context())
	if errors.Is(err, cachepurge.ErrNotFound) {
		st, err = cachepurge.DefaultSettings(), nil
	}
	if err != nil {
		s.logger.Error("reading settings", "error", err)
		writeError(w, http.StatusInternalServerError, "reading settings failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "settings_put")
	var req settingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	st := cachepurge.Settings{
		SelectivePurgeEnabled: *req.SelectivePurgeEnabled,
		UpdatedAt:             s.now().UTC(),
	}
	if err := s.deps.Settings.PutSettings(r.Context(), st); err != nil {
		s.logger.Error("saving settings", "error", err)
		writeError(w, http.StatusInternalServerError, "saving settings failed")
		return
	}
	s.logger.Info("settings updated", "selective_purge_enabled", st.SelectivePurgeEnabled)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePurgeAll(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "purge_all")
	s.writeOutcome(w, r, s.deps.Coordinator.PurgeAll(r.Context()))
}

func (s *Server) handlePurgePage(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "purge_page")
	var change cachepurge.ContentChange
	if !s.decode(w, r, &change) {
		return
	}
	s.writeOutcome(w, r, s.deps.Coordinator.PurgePage(r.Context(), change))
}

func (s *Server) handlePurgeURLs(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "purge_urls")
	var req purgeURLsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeOutcome(w, r, s.deps.Coordinator.PurgeURLs(r.Context(), req.URLs))
}

func (s *Server) handlePostUpdated(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "event_post_updated")
	var ev trigger.PostUpdated
	if !s.decode(w, r, &ev) {
		return
	}
	out, ok := s.deps.Triggers.PostUpdated(r.Context(), ev)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeOutcome(w, r, out)
}

func (s *Server) handleStatusTransition(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "event_status_transition")
	var ev trigger.StatusTransition
	if !s.decode(w, r, &ev) {
		return
	}
	out, ok := s.deps.Triggers.StatusTransition(r.Context(), ev)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeOutcome(w, r, out)
}

func (s *Server) handleCoreUpdated(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "event_core_updated")
	s.writeOutcome(w, r, s.deps.Triggers.CoreUpdated(r.Context()))
}

func (s *Server) handleOptionsSaved(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "event_options_saved")
	s.writeOutcome(w, r, s.deps.Triggers.OptionsSaved(r.Context()))
}

// writeOutcome tags the request with the purge mode and maps success onto
// 200 and failure onto 502.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, out coordinator.Outcome) {
	mode := telemetry.PurgeMode(out.Mode)
	if mode == "" {
		mode = telemetry.PurgeNone
	}
	telemetry.SetPurgeMode(r, mode, out.FellBack)

	status := http.StatusOK
	if !out.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}

func (s *Server) handleCacheAction(endpoint string, call func(ctx context.Context) (uapi.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		telemetry.SetEndpoint(r, endpoint)
		if s.deps.Cache == nil {
			writeJSON(w, http.StatusServiceUnavailable, actionResponse{Message: uapi.MessageNotConfigured})
			return
		}
		res, err := call(r.Context())
		writeJSON(w, actionStatus(err), actionResponse{Success: err == nil, Message: res.Message})
	}
}

func (s *Server) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "notify_test")
	if s.deps.Notifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, actionResponse{Message: "Slack webhook is not configured"})
		return
	}
	err := s.deps.Notifier.SendTest(r.Context())
	switch {
	case errors.Is(err, cachepurge.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, actionResponse{Message: "Slack webhook is not configured"})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, actionResponse{Message: err.Error()})
	default:
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Test message sent"})
	}
}

func actionStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, cachepurge.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
