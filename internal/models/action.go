package models

import "time"

// Action is a user or scheduler decision on a fired reminder.
type Action string

const (
	ActionCompleted Action = "completed"
	ActionDismissed Action = "dismissed"
	ActionSnoozed   Action = "snoozed"
)

// Valid reports whether a is one of the accepted actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCompleted, ActionDismissed, ActionSnoozed:
		return true
	}
	return false
}

// ActionPayload is the body sent to the log-append endpoint.
type ActionPayload struct {
	ReminderID    string `json:"reminderId"`
	Action        Action `json:"action"`
	Timestamp     string `json:"timestamp"`
	SnoozeMinutes *int   `json:"snoozeMinutes,omitempty"`
	SnoozeCount   *int   `json:"snoozeCount,omitempty"`
}

// ActionLog is a locally journaled action, kept so offline scheduling can see today's history.
type ActionLog struct {
	ID            UUID      `db:"id" json:"id"`
	ReminderID    string    `db:"reminder_id" json:"reminderId"`
	Action        Action    `db:"action" json:"action"`
	SnoozeMinutes int       `db:"snooze_minutes" json:"snoozeMinutes,omitempty"`
	SnoozeCount   int       `db:"snooze_count" json:"snoozeCount,omitempty"`
	Queued        bool      `db:"queued" json:"queued"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// TableName returns the table name for ActionLog.
func (ActionLog) TableName() string {
	return "action_log"
}
