package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// ValidateActionPayload checks a payload before it is sent or queued.
// Malformed payloads are rejected here and never reach the queue.
func ValidateActionPayload(p *models.ActionPayload) error {
	if p == nil {
		return errors.New(errors.ErrValidation, "action payload is nil")
	}
	if strings.TrimSpace(p.ReminderID) == "" {
		return errors.New(errors.ErrValidation, "reminderId is required")
	}
	if !p.Action.Valid() {
		return errors.New(errors.ErrInvalidAction, fmt.Sprintf("unknown action %q", p.Action))
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		return errors.Wrap(errors.ErrValidation, "timestamp must be ISO-8601", err)
	}
	if p.SnoozeMinutes != nil && *p.SnoozeMinutes <= 0 {
		return errors.New(errors.ErrValidation, "snoozeMinutes must be positive")
	}
	if p.Action == models.ActionSnoozed && p.SnoozeMinutes == nil {
		return errors.New(errors.ErrValidation, "snoozed action requires snoozeMinutes")
	}
	if p.Action != models.ActionSnoozed && (p.SnoozeMinutes != nil || p.SnoozeCount != nil) {
		return errors.New(errors.ErrValidation, "snooze fields are only valid for snoozed actions")
	}
	return nil
}
