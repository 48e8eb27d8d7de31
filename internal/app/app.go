// Package app wires the resilience layer together and exposes the operations
// the UI calls.
package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kimhsiao/habitnexus/internal/dispatch"
	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/interceptor"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
	"github.com/kimhsiao/habitnexus/internal/queue"
	"github.com/kimhsiao/habitnexus/internal/reminder"
	syncpkg "github.com/kimhsiao/habitnexus/internal/sync"
)

// RequestOptions describes the request handed to QueueRequest.
type RequestOptions struct {
	Method  string
	Headers http.Header
	Body    []byte
}

// App is the facade over the interceptor, queue, coordinator, scheduler and dispatcher.
type App struct {
	Interceptor *interceptor.Interceptor
	Queue       queue.Store
	Coordinator *syncpkg.Coordinator
	Monitor     *syncpkg.Monitor
	Scheduler   *reminder.Scheduler
	Runner      *reminder.Runner
	Dispatcher  *dispatch.Dispatcher
	Reminders   *reminder.Source
	Journal     dispatch.Recorder

	closers []io.Closer
}

// QueueRequest enqueues a mutation directly and reports whether it was stored.
func (a *App) QueueRequest(ctx context.Context, rawURL string, opts RequestOptions, priority models.Priority, requestType models.RequestType) bool {
	if opts.Method == "" {
		opts.Method = http.MethodPost
	}
	if requestType == "" {
		requestType = interceptor.RequestTypeFor(rawURL)
	}
	id, err := a.Queue.Enqueue(ctx, &models.QueuedRequest{
		URL:         rawURL,
		Method:      opts.Method,
		Headers:     opts.Headers.Clone(),
		Body:        opts.Body,
		Priority:    priority,
		RequestType: requestType,
	})
	if err != nil {
		logging.ErrorWithCode("Failed to queue request", string(errors.CodeOf(err)), err,
			map[string]interface{}{"url": rawURL})
		return false
	}
	a.Coordinator.Enqueued(id)
	return true
}

// Fetch sends a request through the interceptor.
func (a *App) Fetch(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	target, err := a.Interceptor.Resolve(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if len(body) > 0 {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.Interceptor.Do(req)
}

// SyncAll runs a sync pass now.
func (a *App) SyncAll(ctx context.Context) (syncpkg.Result, error) {
	return a.Coordinator.SyncAll(ctx)
}

// GetSyncStatus returns the current SyncStatus.
func (a *App) GetSyncStatus(ctx context.Context) models.SyncStatus {
	return a.Coordinator.Status(ctx)
}

// AddListener subscribes fn to SyncStatus updates.
func (a *App) AddListener(fn syncpkg.Listener) syncpkg.ListenerID {
	return a.Coordinator.AddListener(fn)
}

// RemoveListener cancels a subscription.
func (a *App) RemoveListener(id syncpkg.ListenerID) {
	a.Coordinator.RemoveListener(id)
}

// ShouldFireNow reports whether cfg is due at now.
func (a *App) ShouldFireNow(ctx context.Context, cfg *models.ReminderConfig, now time.Time) bool {
	return a.Scheduler.ShouldFireNow(ctx, cfg, now)
}

// GetNextOccurrence returns the next fire time of cfg, if any within the horizon.
func (a *App) GetNextOccurrence(ctx context.Context, cfg *models.ReminderConfig) (time.Time, bool) {
	return a.Scheduler.GetNextOccurrence(ctx, cfg)
}

// ProcessReminder evaluates cfg now and notifies if it is due.
func (a *App) ProcessReminder(ctx context.Context, cfg *models.ReminderConfig) bool {
	fired, _ := a.Runner.ProcessReminder(ctx, cfg)
	return fired
}

// Reminder looks up a reminder by id.
func (a *App) Reminder(id string) (*models.ReminderConfig, error) {
	if a.Reminders == nil {
		return nil, errors.New(errors.ErrReminderNotFound, "no reminder source configured")
	}
	return a.Reminders.Get(id)
}

// Dispatch records a reminder action.
func (a *App) Dispatch(ctx context.Context, reminderID string, action models.Action, snoozeMinutes *int) (*dispatch.Result, error) {
	return a.Dispatcher.Dispatch(ctx, reminderID, action, snoozeMinutes)
}

// QueueStats returns per-priority and per-type queue counts.
func (a *App) QueueStats(ctx context.Context) (map[string]int, error) {
	return queue.Stats(ctx, a.Queue)
}
