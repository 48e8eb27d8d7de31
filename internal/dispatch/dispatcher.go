// Package dispatch turns reminder actions into durable log mutations.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/interceptor"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// DefaultSnoozeMinutes is used when a snooze names no duration.
const DefaultSnoozeMinutes = 10

// Sender submits a log mutation. *interceptor.Interceptor satisfies it.
type Sender interface {
	Resolve(path string) (*url.URL, error)
	Do(req *http.Request) (*http.Response, error)
}

// Lookup finds the scheduler view of a reminder.
type Lookup interface {
	Get(id string) (*models.ReminderConfig, error)
}

// Snoozer tracks per-day snooze counts. ReserveSnooze must check the cap and
// count the snooze atomically.
type Snoozer interface {
	ReserveSnooze(cfg *models.ReminderConfig, snoozedAt time.Time) (int, bool)
	CancelSnooze(cfg *models.ReminderConfig, snoozedAt time.Time)
	ScheduleRefire(cfg *models.ReminderConfig, minutes int, snoozedAt time.Time)
}

// Config holds dispatcher configuration.
type Config struct {
	Endpoint string // Log-append path, e.g. /api/reminder-logs
	Token    string // Identity token, sent as a bearer credential
}

// Result describes a dispatched action.
type Result struct {
	Payload    models.ActionPayload `json:"payload"`
	Queued     bool                 `json:"queued"`
	QueueID    models.UUID          `json:"queueId,omitempty"`
	StatusCode int                  `json:"statusCode"`
}

// Dispatcher produces exactly one log mutation per call and submits it
// through the interceptor. Calling it twice logs twice.
type Dispatcher struct {
	sender    Sender
	reminders Lookup
	snoozer   Snoozer
	journal   Recorder
	endpoint  string
	token     string
	now       func() time.Time
}

// New creates a Dispatcher. journal may be nil.
func New(sender Sender, reminders Lookup, snoozer Snoozer, journal Recorder, cfg Config) *Dispatcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/api/reminder-logs"
	}
	return &Dispatcher{
		sender:    sender,
		reminders: reminders,
		snoozer:   snoozer,
		journal:   journal,
		endpoint:  cfg.Endpoint,
		token:     cfg.Token,
		now:       time.Now,
	}
}

// Dispatch records action for reminderID. snoozeMinutes is only accepted
// for snoozed actions and defaults to DefaultSnoozeMinutes.
func (d *Dispatcher) Dispatch(ctx context.Context, reminderID string, action models.Action, snoozeMinutes *int) (*Result, error) {
	now := d.now()
	payload := models.ActionPayload{
		ReminderID: reminderID,
		Action:     action,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}

	var cfg *models.ReminderConfig
	if snoozeMinutes != nil {
		minutes := *snoozeMinutes
		payload.SnoozeMinutes = &minutes
	} else if action == models.ActionSnoozed {
		minutes := DefaultSnoozeMinutes
		payload.SnoozeMinutes = &minutes
	}
	if err := ValidateActionPayload(&payload); err != nil {
		return nil, err
	}

	if action == models.ActionSnoozed {
		var err error
		cfg, err = d.lookup(reminderID)
		if err != nil {
			return nil, err
		}
		count, ok := d.snoozer.ReserveSnooze(cfg, now)
		if !ok {
			return nil, errors.New(errors.ErrSnoozeLimitReached,
				fmt.Sprintf("reminder %q reached its snooze limit of %d", reminderID, cfg.SnoozeState.MaxSnoozes))
		}
		payload.SnoozeCount = &count
	}

	result, err := d.send(ctx, payload)
	if err != nil {
		if cfg != nil {
			d.snoozer.CancelSnooze(cfg, now)
		}
		return nil, err
	}

	entry := &models.ActionLog{
		ReminderID: reminderID,
		Action:     action,
		Queued:     result.Queued,
		CreatedAt:  now,
	}
	if cfg != nil {
		entry.SnoozeMinutes = *payload.SnoozeMinutes
		entry.SnoozeCount = *payload.SnoozeCount
		d.snoozer.ScheduleRefire(cfg, *payload.SnoozeMinutes, now)
	}
	if d.journal != nil {
		if err := d.journal.Append(context.WithoutCancel(ctx), entry); err != nil {
			// The mutation itself is already sent or queued.
			logging.Error("Failed to journal action", err, map[string]interface{}{"reminder_id": reminderID})
		}
	}

	logging.Info("Reminder action dispatched", map[string]interface{}{
		"reminder_id": reminderID,
		"action":      string(action),
		"queued":      result.Queued,
	})
	return result, nil
}

func (d *Dispatcher) lookup(reminderID string) (*models.ReminderConfig, error) {
	if d.reminders == nil {
		return nil, errors.New(errors.ErrReminderNotFound, fmt.Sprintf("reminder %q not found", reminderID))
	}
	return d.reminders.Get(reminderID)
}

func (d *Dispatcher) send(ctx context.Context, payload models.ActionPayload) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode action payload", err)
	}
	target, err := d.sender.Resolve(d.endpoint)
	if err != nil {
		return nil, err
	}

	ctx = interceptor.WithQueueOptions(ctx, interceptor.QueueOptions{
		Priority:    models.PriorityHigh,
		RequestType: models.RequestTypeReminderLog,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build log request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.sender.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	result := &Result{Payload: payload, StatusCode: resp.StatusCode}
	if interceptor.IsQueued(resp) {
		result.Queued = true
		result.QueueID = models.UUID(resp.Header.Get(interceptor.HeaderQueued))
		return result, nil
	}
	if resp.StatusCode >= 400 {
		return nil, errors.New(errors.ErrValidation,
			fmt.Sprintf("log endpoint rejected action (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody)))
	}
	return result, nil
}
