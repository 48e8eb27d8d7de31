package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// MemoryStore keeps queued requests in process memory. It is not durable
// across restarts and backs `serve --ephemeral` and tests.
type MemoryStore struct {
	items   map[models.UUID]*models.QueuedRequest
	order   []models.UUID
	mu      sync.RWMutex
	maxSize int
	now     func() time.Time
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxItems
	}
	return &MemoryStore{
		items:   make(map[models.UUID]*models.QueuedRequest),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Enqueue implements Store.
func (q *MemoryStore) Enqueue(ctx context.Context, req *models.QueuedRequest) (models.UUID, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.ErrQueueUnavailable, "enqueue cancelled", err)
	}
	if err := prepare(req, q.now()); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return "", apperrors.New(apperrors.ErrQueueFull, fmt.Sprintf("queue is full (max size: %d)", q.maxSize))
	}
	if _, exists := q.items[req.ID]; exists {
		return "", apperrors.New(apperrors.ErrValidation, fmt.Sprintf("queued request %s already exists", req.ID))
	}

	q.items[req.ID] = req.Clone()
	q.order = append(q.order, req.ID)

	logging.Debug("Enqueued request", map[string]interface{}{
		"id":     req.ID.String(),
		"method": req.Method,
		"url":    req.URL,
	})
	return req.ID, nil
}

// List implements Store.
func (q *MemoryStore) List(ctx context.Context) ([]*models.QueuedRequest, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]*models.QueuedRequest, 0, len(q.order))
	for _, id := range q.order {
		items = append(items, q.items[id].Clone())
	}
	return items, nil
}

// Remove implements Store.
func (q *MemoryStore) Remove(ctx context.Context, id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return nil
	}
	delete(q.items, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

// IncrementAttempts implements Store.
func (q *MemoryStore) IncrementAttempts(ctx context.Context, id models.UUID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return 0, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queued request %s not found", id))
	}
	item.Attempts++
	return item.Attempts, nil
}

// Count implements Store.
func (q *MemoryStore) Count(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items), nil
}

// Clear implements Store.
func (q *MemoryStore) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make(map[models.UUID]*models.QueuedRequest)
	q.order = nil

	logging.Info("Queue cleared")
	return nil
}
