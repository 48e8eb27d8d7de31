package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kimhsiao/habitnexus/internal/crypto"
	apperrors "github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// SQLiteStore persists queued requests in the queued_requests table.
// Insertion order is the AUTOINCREMENT seq column.
type SQLiteStore struct {
	db       *sql.DB
	maxItems int
	sealer   *crypto.Sealer
	now      func() time.Time
}

// credentialHeaders are sealed at rest when the store has a sealer.
var credentialHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// NewSQLiteStore creates a store over a migrated database.
func NewSQLiteStore(db *sql.DB, maxItems int) *SQLiteStore {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &SQLiteStore{
		db:       db,
		maxItems: maxItems,
		now:      time.Now,
	}
}

// WithSealer encrypts credential headers before they are written.
func (s *SQLiteStore) WithSealer(sealer *crypto.Sealer) *SQLiteStore {
	s.sealer = sealer
	return s
}

// Enqueue implements Store.
func (s *SQLiteStore) Enqueue(ctx context.Context, req *models.QueuedRequest) (models.UUID, error) {
	if err := prepare(req, s.now()); err != nil {
		return "", err
	}

	stored, err := s.sealHeaders(req.Headers)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrQueueUnavailable, "failed to seal headers", err)
	}
	headers, err := json.Marshal(stored)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "headers are not serializable", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeError("failed to begin enqueue", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM queued_requests").Scan(&count); err != nil {
		return "", storeError("failed to count queue", err)
	}
	if count >= s.maxItems {
		return "", apperrors.New(apperrors.ErrQueueFull, fmt.Sprintf("queue is full (max size: %d)", s.maxItems))
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO queued_requests
		(id, url, method, headers, body, priority, request_type, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		req.ID, req.URL, req.Method, string(headers), req.Body,
		string(req.Priority), string(req.RequestType), req.CreatedAt.UnixNano())
	if err != nil {
		return "", storeError("failed to persist queued request", err)
	}
	if err := tx.Commit(); err != nil {
		return "", storeError("failed to commit queued request", err)
	}

	logging.Debug("Enqueued request", map[string]interface{}{
		"id":           req.ID.String(),
		"method":       req.Method,
		"url":          req.URL,
		"request_type": string(req.RequestType),
	})
	return req.ID, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.QueuedRequest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, method, headers, body, priority, request_type, created_at, attempts
		FROM queued_requests ORDER BY seq`)
	if err != nil {
		return nil, storeError("failed to list queue", err)
	}
	defer rows.Close()

	var items []*models.QueuedRequest
	for rows.Next() {
		var (
			item      models.QueuedRequest
			headers   string
			priority  string
			reqType   string
			createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.URL, &item.Method, &headers, &item.Body,
			&priority, &reqType, &createdAt, &item.Attempts); err != nil {
			return nil, storeError("failed to scan queued request", err)
		}
		item.Headers = http.Header{}
		if err := json.Unmarshal([]byte(headers), &item.Headers); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrQueueUnavailable, "queued request headers are corrupted", err)
		}
		if err := s.openHeaders(item.Headers); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrQueueUnavailable, "queued request headers cannot be unsealed", err)
		}
		item.Priority = models.Priority(priority)
		item.RequestType = models.RequestType(reqType)
		item.CreatedAt = time.Unix(0, createdAt)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to iterate queue", err)
	}
	return items, nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(ctx context.Context, id models.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM queued_requests WHERE id = ?", id); err != nil {
		return storeError("failed to remove queued request", err)
	}
	return nil
}

// IncrementAttempts implements Store.
func (s *SQLiteStore) IncrementAttempts(ctx context.Context, id models.UUID) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("failed to begin attempt update", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE queued_requests SET attempts = attempts + 1 WHERE id = ?", id)
	if err != nil {
		return 0, storeError("failed to increment attempts", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queued request %s not found", id))
	}

	var attempts int
	if err := tx.QueryRowContext(ctx, "SELECT attempts FROM queued_requests WHERE id = ?", id).Scan(&attempts); err != nil {
		return 0, storeError("failed to read attempts", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeError("failed to commit attempt update", err)
	}
	return attempts, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queued_requests").Scan(&count); err != nil {
		return 0, storeError("failed to count queue", err)
	}
	return count, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM queued_requests"); err != nil {
		return storeError("failed to clear queue", err)
	}
	logging.Info("Queue cleared")
	return nil
}

func (s *SQLiteStore) sealHeaders(h http.Header) (http.Header, error) {
	if s.sealer == nil || h == nil {
		return h, nil
	}
	out := h.Clone()
	for _, name := range credentialHeaders {
		values := out.Values(name)
		if len(values) == 0 {
			continue
		}
		sealed := make([]string, len(values))
		for i, v := range values {
			var err error
			if sealed[i], err = s.sealer.Seal(v); err != nil {
				return nil, err
			}
		}
		out[http.CanonicalHeaderKey(name)] = sealed
	}
	return out, nil
}

// openHeaders unseals in place. Sealed values without a sealer are an error.
func (s *SQLiteStore) openHeaders(h http.Header) error {
	for name, values := range h {
		for i, v := range values {
			if !crypto.IsSealed(v) {
				continue
			}
			if s.sealer == nil {
				return fmt.Errorf("header %s is sealed and no storage secret is configured", name)
			}
			opened, err := s.sealer.Open(v)
			if err != nil {
				return err
			}
			values[i] = opened
		}
	}
	return nil
}

// storeError classifies a database failure: a full disk is a quota error,
// anything else means the store is unavailable.
func storeError(message string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_FULL:
			return apperrors.Wrap(apperrors.ErrQueueQuotaExceeded, message, err)
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return apperrors.Wrap(apperrors.ErrQueueUnavailable, message+" (store corrupted)", err)
		}
	}
	return apperrors.Wrap(apperrors.ErrQueueUnavailable, message, err)
}
