package dispatch

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/models"
	"github.com/kimhsiao/habitnexus/internal/uuid"
)

// Recorder appends dispatched actions to the local journal.
type Recorder interface {
	Append(ctx context.Context, entry *models.ActionLog) error
	LoggedOn(ctx context.Context, reminderID string, day time.Time) (bool, error)
	List(ctx context.Context, reminderID string, limit int) ([]*models.ActionLog, error)
}

func prepareEntry(entry *models.ActionLog, now time.Time) error {
	if entry.ReminderID == "" {
		return errors.New(errors.ErrValidation, "action log has no reminder id")
	}
	if !entry.Action.Valid() {
		return errors.New(errors.ErrInvalidAction, "action log has unknown action "+string(entry.Action))
	}
	if entry.ID == "" {
		id, err := uuid.NewOrdered()
		if err != nil {
			return errors.Wrap(errors.ErrInternal, "failed to assign action log id", err)
		}
		entry.ID = models.UUID(id)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	return nil
}

// dayBounds returns [midnight, next midnight) of day in its own location.
func dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

// Journal is the SQLite-backed action journal (table action_log).
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// NewJournal creates a Journal over a migrated database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Append implements Recorder.
func (j *Journal) Append(ctx context.Context, entry *models.ActionLog) error {
	if err := prepareEntry(entry, j.now()); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO action_log
		(id, reminder_id, action, snooze_minutes, snooze_count, queued, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ReminderID, string(entry.Action),
		entry.SnoozeMinutes, entry.SnoozeCount, entry.Queued, entry.CreatedAt.UnixNano())
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to append action log", err)
	}
	return nil
}

// LoggedOn implements Recorder and reminder.Journal.
func (j *Journal) LoggedOn(ctx context.Context, reminderID string, day time.Time) (bool, error) {
	start, end := dayBounds(day)
	var exists bool
	err := j.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM action_log WHERE reminder_id = ? AND created_at >= ? AND created_at < ?)`,
		reminderID, start.UnixNano(), end.UnixNano()).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(errors.ErrDatabase, "failed to query action log", err)
	}
	return exists, nil
}

// List implements Recorder. Newest entries come first.
func (j *Journal) List(ctx context.Context, reminderID string, limit int) ([]*models.ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `SELECT id, reminder_id, action, snooze_minutes, snooze_count, queued, created_at
		FROM action_log WHERE reminder_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, reminderID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list action log", err)
	}
	defer rows.Close()

	var entries []*models.ActionLog
	for rows.Next() {
		var (
			e       models.ActionLog
			action  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.ReminderID, &action, &e.SnoozeMinutes, &e.SnoozeCount, &e.Queued, &created); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan action log", err)
		}
		e.Action = models.Action(action)
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to iterate action log", err)
	}
	return entries, nil
}

// MemoryJournal keeps the action journal in process memory.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*models.ActionLog
	now     func() time.Time
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{now: time.Now}
}

// Append implements Recorder.
func (j *MemoryJournal) Append(ctx context.Context, entry *models.ActionLog) error {
	if err := prepareEntry(entry, j.now()); err != nil {
		return err
	}
	e := *entry
	j.mu.Lock()
	j.entries = append(j.entries, &e)
	j.mu.Unlock()
	return nil
}

// LoggedOn implements Recorder and reminder.Journal.
func (j *MemoryJournal) LoggedOn(ctx context.Context, reminderID string, day time.Time) (bool, error) {
	start, end := dayBounds(day)
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, e := range j.entries {
		if e.ReminderID == reminderID && !e.CreatedAt.Before(start) && e.CreatedAt.Before(end) {
			return true, nil
		}
	}
	return false, nil
}

// List implements Recorder. Newest entries come first.
func (j *MemoryJournal) List(ctx context.Context, reminderID string, limit int) ([]*models.ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*models.ActionLog
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if e := j.entries[i]; e.ReminderID == reminderID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}
