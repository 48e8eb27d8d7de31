package models

import (
	"net/http"
	"time"
)

// SyncError records one failed replay in the most recent pass.
type SyncError struct {
	RequestID UUID      `json:"requestId"`
	URL       string    `json:"url"`
	Message   string    `json:"message"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// SyncStatus is derived state, always recomputable from the queue store and connectivity.
type SyncStatus struct {
	IsOnline            bool        `json:"isOnline"`
	IsSyncing           bool        `json:"isSyncing"`
	QueuedRequestsCount int         `json:"queuedRequestsCount"`
	SyncErrors          []SyncError `json:"syncErrors"`
	LastSyncAt          *time.Time  `json:"lastSyncAt,omitempty"`
}

// CachedResponse is a stored GET response keyed by path+query.
type CachedResponse struct {
	Key        string      `db:"key" json:"key"`
	StatusCode int         `db:"status_code" json:"statusCode"`
	Header     http.Header `db:"headers" json:"headers"`
	Body       []byte      `db:"body" json:"body"`
	StoredAt   time.Time   `db:"stored_at" json:"storedAt"`
}

// TableName returns the table name for CachedResponse.
func (CachedResponse) TableName() string {
	return "response_cache"
}
