// Package queue provides the durable store of mutations waiting to be replayed.
package queue

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/models"
	"github.com/kimhsiao/habitnexus/internal/uuid"
)

// DefaultMaxItems bounds the queue when no limit is configured.
const DefaultMaxItems = 10000

// Store is a key-ordered store of pending mutation requests.
//
// Every operation is individually atomic. Enqueue returns only after the
// item is durable; a failure is an AppError with a QUEUE_* code.
type Store interface {
	// Enqueue assigns an id, persists the snapshot and returns the id.
	Enqueue(ctx context.Context, req *models.QueuedRequest) (models.UUID, error)

	// List returns all pending items in insertion order.
	List(ctx context.Context) ([]*models.QueuedRequest, error)

	// Remove deletes one item. Removing an unknown id is a no-op.
	Remove(ctx context.Context, id models.UUID) error

	// IncrementAttempts bumps the retry counter and returns the new value.
	IncrementAttempts(ctx context.Context, id models.UUID) (int, error)

	// Count returns the number of pending items.
	Count(ctx context.Context) (int, error)

	// Clear drops everything.
	Clear(ctx context.Context) error
}

// prepare validates req and fills in id, timestamps and defaults.
func prepare(req *models.QueuedRequest, now time.Time) error {
	if req == nil {
		return apperrors.New(apperrors.ErrValidation, "queued request is nil")
	}
	if strings.TrimSpace(req.URL) == "" {
		return apperrors.New(apperrors.ErrValidation, "queued request has no url")
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	switch req.Method {
	case "":
		return apperrors.New(apperrors.ErrValidation, "queued request has no method")
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return apperrors.New(apperrors.ErrValidation, "read requests are never queued: "+req.Method)
	}
	if req.RequestType == "" {
		req.RequestType = models.RequestTypeGeneral
	}
	if !req.RequestType.Valid() {
		return apperrors.New(apperrors.ErrValidation, "unknown request type: "+string(req.RequestType))
	}
	if req.Priority == "" {
		req.Priority = req.RequestType.DefaultPriority()
	}
	if !req.Priority.Valid() {
		return apperrors.New(apperrors.ErrValidation, "unknown priority: "+string(req.Priority))
	}
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	if req.ID == "" {
		id, err := uuid.NewOrdered()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to assign queue id", err)
		}
		req.ID = models.UUID(id)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.Attempts = 0
	return nil
}

// Stats returns per-priority and per-type counts for diagnostics.
func Stats(ctx context.Context, s Store) (map[string]int, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{
		"total":  len(items),
		"high":   0,
		"medium": 0,
		"low":    0,
	}
	for _, item := range items {
		stats[string(item.Priority)]++
		stats["type:"+string(item.RequestType)]++
	}
	return stats, nil
}
