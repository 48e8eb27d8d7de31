package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kimhsiao/habitnexus/internal/app"
	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// ReminderHandler exposes next occurrences and records reminder actions.
type ReminderHandler struct {
	app *app.App
}

// NewReminderHandler creates a new ReminderHandler.
func NewReminderHandler(a *app.App) *ReminderHandler {
	return &ReminderHandler{app: a}
}

type occurrence struct {
	Reminder models.ReminderConfig `json:"reminder"`
	Next     *time.Time            `json:"next"`
}

func (h *ReminderHandler) occurrence(r *http.Request, cfg *models.ReminderConfig) occurrence {
	o := occurrence{Reminder: *cfg}
	if next, ok := h.app.GetNextOccurrence(r.Context(), cfg); ok {
		o.Next = &next
	}
	return o
}

// List handles GET /_habitd/reminders
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	reminders := h.app.Reminders.Reminders()
	out := make([]occurrence, 0, len(reminders))
	for i := range reminders {
		out = append(out, h.occurrence(r, &reminders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reminders": out})
}

// Next handles GET /_habitd/reminders/{id}/next
// next is null when nothing fires within the horizon.
func (h *ReminderHandler) Next(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Reminder(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.occurrence(r, cfg))
}

// Act handles POST /_habitd/reminders/{id}/actions
// Body: {"action": "completed"|"dismissed"|"snoozed", "snoozeMinutes": 10}
func (h *ReminderHandler) Act(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Action        models.Action `json:"action"`
		SnoozeMinutes *int          `json:"snoozeMinutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}

	result, err := h.app.Dispatch(r.Context(), r.PathValue("id"), request.Action, request.SnoozeMinutes)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}
