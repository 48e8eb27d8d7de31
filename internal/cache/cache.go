// Package cache stores GET responses for the cache-first and network-first strategies.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// Store is a response cache keyed by path+query.
type Store interface {
	Get(ctx context.Context, key string) (*models.CachedResponse, bool, error)
	Put(ctx context.Context, resp *models.CachedResponse) error
	Purge(ctx context.Context) error
}

// Key returns the cache key for u: the path plus the raw query, if any.
func Key(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery == "" {
		return path
	}
	return path + "?" + u.RawQuery
}

// SQLiteStore keeps cached responses in the response_cache table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a cache over a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*models.CachedResponse, bool, error) {
	var (
		resp     models.CachedResponse
		headers  string
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT key, status_code, headers, body, stored_at FROM response_cache WHERE key = ?", key).
		Scan(&resp.Key, &resp.StatusCode, &headers, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrDatabase, "failed to read cache entry", err)
	}
	resp.Header = http.Header{}
	if err := json.Unmarshal([]byte(headers), &resp.Header); err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrDatabase, "cached headers are corrupted", err)
	}
	resp.StoredAt = time.Unix(0, storedAt)
	return &resp, true, nil
}

// Put implements Store. An existing entry for the key is overwritten.
func (s *SQLiteStore) Put(ctx context.Context, resp *models.CachedResponse) error {
	headers, err := json.Marshal(resp.Header)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "headers are not serializable", err)
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO response_cache (key, status_code, headers, body, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status_code = excluded.status_code,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		resp.Key, resp.StatusCode, string(headers), resp.Body, storedAt.UnixNano())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write cache entry", err)
	}
	return nil
}

// Purge implements Store.
func (s *SQLiteStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM response_cache"); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to purge cache", err)
	}
	return nil
}

// MemoryStore is an in-process cache.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.CachedResponse
}

// NewMemoryStore creates an empty in-process cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.CachedResponse)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) (*models.CachedResponse, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	c := *resp
	c.Header = resp.Header.Clone()
	c.Body = append([]byte(nil), resp.Body...)
	return &c, true, nil
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, resp *models.CachedResponse) error {
	c := *resp
	c.Header = resp.Header.Clone()
	c.Body = append([]byte(nil), resp.Body...)
	if c.StoredAt.IsZero() {
		c.StoredAt = time.Now()
	}
	m.mu.Lock()
	m.entries[c.Key] = &c
	m.mu.Unlock()
	return nil
}

// Purge implements Store.
func (m *MemoryStore) Purge(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*models.CachedResponse)
	m.mu.Unlock()
	return nil
}
