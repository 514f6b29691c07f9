package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/engine"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

// ingestRequest is the wire shape of POST /events. Timestamp is optional;
// the server assigns receipt time when absent.
type ingestRequest struct {
	SourceApp string          `json:"source_app"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"hook_event_type"`
	Payload   json.RawMessage `json:"payload"`
	Chat      json.RawMessage `json:"chat,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Model     string          `json:"model,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, models.NewValidationError("body", "exceeds size cap"))
			return
		}
		writeError(w, models.NewValidationError("body", "must be valid JSON"))
		return
	}

	ev := &models.Event{
		SourceApp: req.SourceApp,
		SessionID: req.SessionID,
		Type:      models.HookEventType(req.Type),
		Payload:   req.Payload,
		Chat:      req.Chat,
		Summary:   req.Summary,
		Model:     req.Model,
	}
	if req.Timestamp != nil {
		ev.Timestamp = req.Timestamp.UTC()
	} else {
		ev.Timestamp = time.Now().UTC()
	}

	stored, err := engine.ProcessEvent(s.engine, ev)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.Publish(stored)
	s.webhooks.Enqueue("event", stored)

	writeJSON(w, http.StatusAccepted, stored)
}

// handleStream serves the live event feed as Server-Sent Events. Each
// accepted event is one `data:` frame; a heartbeat comment every 30 s keeps
// intermediaries from closing idle connections.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
