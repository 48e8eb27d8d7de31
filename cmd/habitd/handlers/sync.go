package handlers

import (
	"net/http"

	"github.com/kimhsiao/habitnexus/internal/app"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// SyncHandler handles sync status, manual sync and queue inspection.
type SyncHandler struct {
	app *app.App
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(a *app.App) *SyncHandler {
	return &SyncHandler{app: a}
}

// GetStatus handles GET /_habitd/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.GetSyncStatus(r.Context()))
}

// TriggerSync handles POST /_habitd/sync
// Runs one pass and returns its result with the resulting status.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.SyncAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": result,
		"status": h.app.GetSyncStatus(r.Context()),
	})
}

// queuedItem renders the body as text instead of base64.
type queuedItem struct {
	*models.QueuedRequest
	Body string `json:"body,omitempty"`
}

// ListQueue handles GET /_habitd/queue
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.app.Queue.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.app.QueueStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]queuedItem, 0, len(items))
	for _, item := range items {
		out = append(out, queuedItem{QueuedRequest: item, Body: string(item.Body)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": out,
		"stats": stats,
	})
}

// ClearQueue handles DELETE /_habitd/queue
// Drops every queued mutation without replaying it.
func (h *SyncHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	count, _ := h.app.Queue.Count(r.Context())
	if err := h.app.Queue.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	logging.Warn("Offline queue cleared", map[string]interface{}{"dropped": count})
	writeJSON(w, http.StatusOK, map[string]interface{}{"dropped": count})
}
