package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// EventLog lists journaled engine transitions.
type EventLog interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// EventsHandler serves the audit log of the journal.
type EventsHandler struct {
	log    EventLog
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(log EventLog, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{log: log, logger: logger}
}

type eventJSON struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// ListEvents handles GET /events.
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.log.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	out := make([]eventJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
