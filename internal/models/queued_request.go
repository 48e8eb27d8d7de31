package models

import (
	"net/http"
	"time"
)

// Priority ranks queued mutations for diagnostics.
type Priority string

const (
	PriorityHigh   Priority = "high"   // reminder action logs
	PriorityMedium Priority = "medium" // counter updates
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// RequestType routes a queued mutation to its sync-tag bucket.
type RequestType string

const (
	RequestTypeReminderLog    RequestType = "reminder-log"
	RequestTypeCounterUpdate  RequestType = "counter-update"
	RequestTypeReminderUpdate RequestType = "reminder-update"
	RequestTypeGeneral        RequestType = "general"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeReminderLog, RequestTypeCounterUpdate, RequestTypeReminderUpdate, RequestTypeGeneral:
		return true
	}
	return false
}

// DefaultPriority returns the priority a request of this type gets when the caller gives none.
func (t RequestType) DefaultPriority() Priority {
	switch t {
	case RequestTypeReminderLog:
		return PriorityHigh
	case RequestTypeCounterUpdate:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// QueuedRequest is a replayable snapshot of a mutation that failed to reach the network.
// It is only ever changed in place to bump Attempts.
type QueuedRequest struct {
	ID          UUID        `db:"id" json:"id"`
	URL         string      `db:"url" json:"url"`
	Method      string      `db:"method" json:"method"`
	Headers     http.Header `db:"headers" json:"headers"`
	Body        []byte      `db:"body" json:"body,omitempty"`
	Priority    Priority    `db:"priority" json:"priority"`
	RequestType RequestType `db:"request_type" json:"requestType"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	Attempts    int         `db:"attempts" json:"attempts"`
}

// TableName returns the table name for QueuedRequest.
func (QueuedRequest) TableName() string {
	return "queued_requests"
}

// Clone returns a deep copy so snapshots handed to callers cannot alias store state.
func (r *QueuedRequest) Clone() *QueuedRequest {
	c := *r
	c.Headers = r.Headers.Clone()
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}
