package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/engine"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

func (s *Server) handleDismissConflict(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, models.NewValidationError("id", "is required"))
		return
	}
	if err := engine.Dismiss(s.engine, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dismissed": id})
}

// webhookRequest is the wire shape for webhook create and update.
type webhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

func decodeWebhookRequest(r *http.Request) (*webhookRequest, error) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, models.NewValidationError("body", "must be valid JSON")
	}
	if req.URL == "" {
		return nil, models.NewValidationError("url", "is required")
	}
	if err := ValidateWebhookURL(req.URL); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, _ *http.Request) {
	subs, err := store.ListWebhooks(s.engine.DB(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	req, err := decodeWebhookRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sub := &models.WebhookSubscription{
		ID:        uuid.NewString(),
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if err := store.InsertWebhook(s.engine.DB(), sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	sub, err := store.GetWebhook(s.engine.DB(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := decodeWebhookRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sub.URL = req.URL
	if req.Secret != "" {
		sub.Secret = req.Secret
	}
	sub.Events = req.Events
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if err := store.UpdateWebhook(s.engine.DB(), sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := store.DeleteWebhook(s.engine.DB(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleTestWebhook enqueues a synthetic delivery to one subscription so a
// client can verify connectivity and signature handling.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	sub, err := store.GetWebhook(s.engine.DB(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := json.Marshal(map[string]interface{}{
		"type": "test",
		"data": map[string]string{"message": "devpulse webhook test", "subscription": sub.ID},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	select {
	case s.webhooks.queue <- webhookJob{sub: sub, body: body}:
		writeJSON(w, http.StatusAccepted, map[string]string{"queued": sub.ID})
	default:
		writeError(w, models.NewValidationError("queue", "delivery queue is full, retry later"))
	}
}

// retentionRequest carries optional overrides; absent fields keep their
// current values.
type retentionRequest struct {
	EventDays     *int `json:"event_days,omitempty"`
	SessionDays   *int `json:"session_days,omitempty"`
	FileAccessHrs *int `json:"file_access_hours,omitempty"`
	DismissalHrs  *int `json:"dismissal_hours,omitempty"`
}

func (s *Server) handleUpdateRetention(w http.ResponseWriter, r *http.Request) {
	var req retentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "must be valid JSON"))
		return
	}

	current := s.engine.Retention()
	if err := applyRetentionField(&current.EventDays, req.EventDays, "event_days"); err != nil {
		writeError(w, err)
		return
	}
	if err := applyRetentionField(&current.SessionDays, req.SessionDays, "session_days"); err != nil {
		writeError(w, err)
		return
	}
	if err := applyRetentionField(&current.FileAccessHrs, req.FileAccessHrs, "file_access_hours"); err != nil {
		writeError(w, err)
		return
	}
	if err := applyRetentionField(&current.DismissalHrs, req.DismissalHrs, "dismissal_hours"); err != nil {
		writeError(w, err)
		return
	}

	s.engine.SetRetention(current)
	writeJSON(w, http.StatusOK, current)
}

func applyRetentionField(dst *int, src *int, field string) error {
	if src == nil {
		return nil
	}
	if *src <= 0 {
		return models.NewValidationError(field, "must be a positive integer")
	}
	*dst = *src
	return nil
}

// handleCleanup runs one retention pass immediately instead of waiting for
// the sweeper's coarse schedule.
func (s *Server) handleCleanup(w http.ResponseWriter, _ *http.Request) {
	if s.sweeper == nil {
		writeError(w, models.NewValidationError("cleanup", "no sweeper attached to this server"))
		return
	}
	s.sweeper.CleanupOnce()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleaned":   true,
		"retention": s.engine.Retention(),
	})
}
