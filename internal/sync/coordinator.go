// Package sync drains the offline queue back to the network.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
	"github.com/kimhsiao/habitnexus/internal/queue"
)

// Fetcher sends a replayed request. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Listener receives SyncStatus updates.
type Listener func(models.SyncStatus)

// ListenerID identifies a registered Listener.
type ListenerID uint64

// Config holds coordinator configuration.
type Config struct {
	Interval      time.Duration // How often to sync while online (default: 30 seconds)
	ReplayTimeout time.Duration // Upper bound for one replayed request (default: 10 seconds)
	MaxErrors     int           // Sync errors kept from the latest pass (default: 50)
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:      30 * time.Second,
		ReplayTimeout: 10 * time.Second,
		MaxErrors:     50,
	}
}

// Result summarizes one sync pass.
type Result struct {
	Batch    int `json:"batch"`
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
	// Deferred items were held back behind an earlier failure on the same
	// resource. Their attempts are not incremented.
	Deferred int `json:"deferred"`
}

// Coordinator replays queued mutations in FIFO order with at most one pass in flight.
type Coordinator struct {
	store         queue.Store
	fetcher       Fetcher
	interval      time.Duration
	replayTimeout time.Duration
	maxErrors     int
	now           func() time.Time

	syncing atomic.Bool

	mu         sync.RWMutex
	isOnline   bool
	isRunning  bool
	stopped    bool
	lastSyncAt time.Time
	syncErrors []models.SyncError
	listeners  map[ListenerID]Listener
	nextID     ListenerID
	ctx        context.Context
	cancel     context.CancelFunc

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator. The fetcher must reach the network
// directly; replays never go back through the interceptor.
func NewCoordinator(store queue.Store, fetcher Fetcher, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.ReplayTimeout <= 0 {
		config.ReplayTimeout = defaults.ReplayTimeout
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = defaults.MaxErrors
	}

	return &Coordinator{
		store:         store,
		fetcher:       fetcher,
		interval:      config.Interval,
		replayTimeout: config.ReplayTimeout,
		maxErrors:     config.MaxErrors,
		now:           time.Now,
		isOnline:      true, // Assume online until a failure says otherwise
		listeners:     make(map[ListenerID]Listener),
		ctx:           context.Background(),
	}
}

// Start runs the periodic sync loop until Stop is called or ctx is done.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = true
	c.stopped = false
	c.ctx, c.cancel = context.WithCancel(ctx)
	loopCtx := c.ctx
	c.mu.Unlock()

	c.wg.Add(1)
	go c.periodicLoop(loopCtx)

	logging.Info("Sync coordinator started", map[string]interface{}{
		"interval_seconds": c.interval.Seconds(),
	})
}

// Stop cancels any pass in flight and waits for background work to finish.
// Items not yet replayed stay in the store.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	logging.Info("Sync coordinator stopped", nil)
}

func (c *Coordinator) periodicLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsOnline() {
				c.publish(ctx)
				continue
			}
			c.SyncAll(ctx)
		}
	}
}

// TriggerSync starts a pass in the background.
// Returns false if a pass is already in progress or the coordinator was stopped.
func (c *Coordinator) TriggerSync() bool {
	if c.syncing.Load() {
		return false
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.SyncAll(ctx)
	}()
	return true
}

// SyncAll replays a snapshot of the queue. Items enqueued during the pass are
// left for the next one. A second call while a pass is active returns
// SYNC_IN_PROGRESS without touching the store.
func (c *Coordinator) SyncAll(ctx context.Context) (Result, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		logging.Debug("Sync already in progress, skipping", nil)
		return Result{}, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	defer func() {
		c.syncing.Store(false)
		c.publish(context.WithoutCancel(ctx))
	}()

	batch, err := c.store.List(ctx)
	if err != nil {
		logging.ErrorWithCode("Failed to snapshot queue", string(errors.CodeOf(err)), err, nil)
		return Result{}, err
	}

	result := Result{Batch: len(batch)}
	if len(batch) == 0 {
		c.finishPass(nil)
		return result, nil
	}

	logging.Info("Replaying queued requests", map[string]interface{}{"count": len(batch)})

	var passErrors []models.SyncError
	blocked := make(map[string]bool)
	for i, item := range batch {
		if err := ctx.Err(); err != nil {
			// Teardown abandons the pass; the rest stays queued.
			logging.Warn("Sync pass abandoned", map[string]interface{}{
				"replayed":  result.Replayed,
				"remaining": len(batch) - i,
			})
			c.finishPass(passErrors)
			return result, err
		}

		key := orderingKey(item)
		if blocked[key] {
			logging.Debug("Replay deferred behind failed request", map[string]interface{}{
				"id":  item.ID.String(),
				"url": item.URL,
			})
			result.Deferred++
			continue
		}

		if err := c.replay(ctx, item); err != nil {
			blocked[key] = true
			if ctx.Err() != nil {
				continue
			}
			result.Failed++
			passErrors = append(passErrors, c.recordFailure(ctx, item, err))
			continue
		}

		if err := c.store.Remove(ctx, item.ID); err != nil {
			// Replayed but still stored: the next pass sends it again.
			logging.Error("Failed to remove replayed request", err, map[string]interface{}{"id": item.ID.String()})
		}
		result.Replayed++
	}

	c.finishPass(passErrors)

	logging.Info("Sync pass completed", map[string]interface{}{
		"replayed": result.Replayed,
		"failed":   result.Failed,
		"deferred": result.Deferred,
	})
	return result, nil
}

// orderingKey groups queued requests that must reach the server in enqueue
// order: same request type and URL, and for action logs the same reminder.
func orderingKey(item *models.QueuedRequest) string {
	key := string(item.RequestType) + " " + item.URL
	if item.RequestType == models.RequestTypeReminderLog {
		var payload struct {
			ReminderID string `json:"reminderId"`
		}
		if json.Unmarshal(item.Body, &payload) == nil && payload.ReminderID != "" {
			key += " " + payload.ReminderID
		}
	}
	return key
}

func (c *Coordinator) finishPass(passErrors []models.SyncError) {
	if len(passErrors) > c.maxErrors {
		passErrors = passErrors[len(passErrors)-c.maxErrors:]
	}
	c.mu.Lock()
	c.lastSyncAt = c.now()
	c.syncErrors = passErrors
	c.mu.Unlock()
}

func (c *Coordinator) recordFailure(ctx context.Context, item *models.QueuedRequest, cause error) models.SyncError {
	attempts, err := c.store.IncrementAttempts(ctx, item.ID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			logging.Error("Failed to increment replay attempts", err, map[string]interface{}{"id": item.ID.String()})
		}
		attempts = item.Attempts + 1
	}

	logging.Warn("Replay failed", map[string]interface{}{
		"id":       item.ID.String(),
		"url":      item.URL,
		"attempts": attempts,
		"error":    cause.Error(),
	})

	return models.SyncError{
		RequestID: item.ID,
		URL:       item.URL,
		Message:   cause.Error(),
		Attempts:  attempts,
		At:        c.now(),
	}
}

// replay reconstructs and sends one queued request. Only a 2xx is success.
func (c *Coordinator) replay(ctx context.Context, item *models.QueuedRequest) error {
	ctx, cancel := context.WithTimeout(ctx, c.replayTimeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if len(item.Body) > 0 {
		body = bytes.NewReader(item.Body)
	}
	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL, body)
	if err != nil {
		return errors.Wrap(errors.ErrValidation, "queued request cannot be rebuilt", err)
	}
	if item.Headers != nil {
		req.Header = item.Headers.Clone()
	}

	resp, err := c.fetcher.Do(req)
	if err != nil {
		c.ReportConnectivity(false)
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrap(errors.ErrSyncTimeout, fmt.Sprintf("replay timed out after %s", c.replayTimeout), err)
		}
		return errors.Wrap(errors.ErrNetworkUnavailable, "replay failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	c.ReportConnectivity(true)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(errors.ErrSyncFailed, fmt.Sprintf("replay returned %d", resp.StatusCode))
	}
	return nil
}

// ReportConnectivity records the latest connectivity signal. A transition
// from offline to online starts a pass.
func (c *Coordinator) ReportConnectivity(online bool) {
	c.mu.Lock()
	wasOnline := c.isOnline
	c.isOnline = online
	c.mu.Unlock()

	if wasOnline == online {
		return
	}

	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  online,
	})

	if online {
		if !c.TriggerSync() {
			c.publish(context.Background())
		}
		return
	}
	c.publish(context.Background())
}

// Enqueued publishes the new queue depth after the interceptor queued a mutation.
func (c *Coordinator) Enqueued(id models.UUID) {
	c.publish(context.Background())
}

// IsOnline returns the last reported connectivity.
func (c *Coordinator) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isOnline
}

// IsSyncing returns whether a pass is in flight.
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load()
}

// IsRunning returns whether the periodic loop is running.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// Status derives the current SyncStatus from the store and connectivity.
func (c *Coordinator) Status(ctx context.Context) models.SyncStatus {
	count, err := c.store.Count(ctx)
	if err != nil {
		logging.Warn("Failed to count queued requests", map[string]interface{}{"error": err.Error()})
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := models.SyncStatus{
		IsOnline:            c.isOnline,
		IsSyncing:           c.syncing.Load(),
		QueuedRequestsCount: count,
		SyncErrors:          append([]models.SyncError{}, c.syncErrors...),
	}
	if !c.lastSyncAt.IsZero() {
		last := c.lastSyncAt
		status.LastSyncAt = &last
	}
	return status
}

// AddListener registers fn for SyncStatus updates.
func (c *Coordinator) AddListener(fn Listener) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[c.nextID] = fn
	return c.nextID
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (c *Coordinator) RemoveListener(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

func (c *Coordinator) publish(ctx context.Context) {
	c.mu.RLock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	status := c.Status(ctx)
	for _, fn := range listeners {
		fn(status)
	}
}
