// Package reminder decides when reminders fire and feeds due reminders to a notifier.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// singleSlot is the slot index used for non-recurring reminders.
const singleSlot = -1

// Journal reports whether actions were recorded for a reminder on a given day.
type Journal interface {
	LoggedOn(ctx context.Context, reminderID string, day time.Time) (bool, error)
}

// Config holds scheduler configuration.
type Config struct {
	Granularity time.Duration  // Polling granularity (default: 1 minute)
	HorizonDays int            // How far GetNextOccurrence looks ahead (default: 7)
	Location    *time.Location // Time zone of reminder times (default: local)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Granularity: time.Minute,
		HorizonDays: 7,
		Location:    time.Local,
	}
}

type firedDay struct {
	day   string
	slots map[int]bool
}

type snoozeDay struct {
	day     string
	count   int
	due     time.Time
	pending bool
}

// Scheduler evaluates reminder rules. Fired-slot markers and snooze counts are
// kept in memory per local day; "already logged today" for single-fire
// reminders comes from the Journal.
type Scheduler struct {
	journal     Journal
	granularity int
	horizonDays int
	loc         *time.Location
	now         func() time.Time

	mu      sync.Mutex
	fired   map[string]*firedDay
	snoozes map[string]*snoozeDay
	warned  map[string]string
}

// NewScheduler creates a Scheduler. journal may be nil.
func NewScheduler(journal Journal, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	granularity := int(config.Granularity / time.Minute)
	if granularity < 1 {
		granularity = 1
	}
	horizon := config.HorizonDays
	if horizon <= 0 {
		horizon = 7
	}
	loc := config.Location
	if loc == nil {
		loc = time.Local
	}

	return &Scheduler{
		journal:     journal,
		granularity: granularity,
		horizonDays: horizon,
		loc:         loc,
		now:         time.Now,
		fired:       make(map[string]*firedDay),
		snoozes:     make(map[string]*snoozeDay),
		warned:      make(map[string]string),
	}
}

// Location returns the time zone reminder times are interpreted in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// rule is a validated ReminderConfig in minutes of day.
type rule struct {
	recurring  bool
	time       int
	start      int
	end        int
	interval   int
	days       [7]bool
	quiet      bool
	quietStart int
	quietEnd   int
}

// Validate reports why cfg can never fire, or nil.
func Validate(cfg *models.ReminderConfig) error {
	_, err := compile(cfg)
	return err
}

func compile(cfg *models.ReminderConfig) (rule, error) {
	var r rule
	if cfg == nil {
		return r, errors.New(errors.ErrReminderMisconfigured, "reminder is nil")
	}
	misconfigured := func(format string, args ...interface{}) (rule, error) {
		return rule{}, errors.New(errors.ErrReminderMisconfigured, fmt.Sprintf(format, args...))
	}

	r.recurring = cfg.Recurring
	if cfg.Recurring {
		if cfg.RecurringInterval <= 0 {
			return misconfigured("recurring interval must be positive, got %d", cfg.RecurringInterval)
		}
		start, err := parseClock(cfg.RecurringStartTime)
		if err != nil {
			return misconfigured("recurring start: %v", err)
		}
		end, err := parseClock(cfg.RecurringEndTime)
		if err != nil {
			return misconfigured("recurring end: %v", err)
		}
		if start >= end {
			return misconfigured("recurring window %s-%s is empty", cfg.RecurringStartTime, cfg.RecurringEndTime)
		}
		r.start, r.end, r.interval = start, end, cfg.RecurringInterval
	} else {
		t, err := parseClock(cfg.Time)
		if err != nil {
			return misconfigured("time: %v", err)
		}
		r.time = t
	}

	if cfg.QuietHoursEnabled {
		qs, err := parseClock(cfg.QuietHoursStart)
		if err != nil {
			return misconfigured("quiet hours start: %v", err)
		}
		qe, err := parseClock(cfg.QuietHoursEnd)
		if err != nil {
			return misconfigured("quiet hours end: %v", err)
		}
		r.quiet, r.quietStart, r.quietEnd = true, qs, qe
	}

	for _, d := range cfg.DaysOfWeek {
		if d >= 0 && d < 7 {
			r.days[d] = true
		}
	}
	return r, nil
}

func (r rule) quietAt(minute int) bool {
	return r.quiet && inWindow(minute, r.quietStart, r.quietEnd)
}

// slotAt returns the slot due at minute on weekday, if any.
func (r rule) slotAt(weekday, minute, granularity int) (int, bool) {
	if !r.days[weekday] {
		return 0, false
	}
	if !r.recurring {
		d := minute - r.time
		return singleSlot, d >= 0 && d < granularity
	}
	if minute < r.start || minute > r.end {
		return 0, false
	}
	elapsed := minute - r.start
	if elapsed%r.interval >= granularity {
		return 0, false
	}
	return elapsed / r.interval, true
}

// candidates lists the minutes of day a reminder may fire at, with their slots.
func (r rule) candidates() (minutes []int, slots []int) {
	if !r.recurring {
		return []int{r.time}, []int{singleSlot}
	}
	for m := r.start; m <= r.end; m += r.interval {
		minutes = append(minutes, m)
		slots = append(slots, (m-r.start)/r.interval)
	}
	return minutes, slots
}

// compile validates cfg and logs a diagnostic the first time a given problem is seen.
func (s *Scheduler) compile(cfg *models.ReminderConfig) (rule, bool) {
	r, err := compile(cfg)

	id := ""
	if cfg != nil {
		id = cfg.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.warned, id)
		return r, true
	}
	if s.warned[id] != err.Error() {
		s.warned[id] = err.Error()
		logging.Warn("Reminder is misconfigured and will never fire", map[string]interface{}{
			"reminder_id": id,
			"error":       err.Error(),
		})
	}
	return r, false
}

// ShouldFireNow reports whether cfg should fire at now. A true result marks
// the slot as fired so the same slot never fires twice on one day.
func (s *Scheduler) ShouldFireNow(ctx context.Context, cfg *models.ReminderConfig, now time.Time) bool {
	r, ok := s.compile(cfg)
	if !ok {
		return false
	}
	now = now.In(s.loc)
	day, minute := dayKey(now), minuteOfDay(now)
	quiet := r.quietAt(minute)

	if s.takeDueSnooze(cfg.ID, day, now) {
		// A snooze coming due inside quiet hours is skipped, not deferred.
		return !quiet
	}
	if quiet {
		return false
	}

	slot, due := r.slotAt(int(now.Weekday()), minute, s.granularity)
	if !due {
		return false
	}
	if s.hasFired(cfg.ID, day, slot) {
		return false
	}
	if !r.recurring && s.loggedOn(ctx, cfg.ID, now) {
		return false
	}
	return s.markFired(cfg.ID, day, slot)
}

// GetNextOccurrence returns the next instant cfg would fire, starting now.
func (s *Scheduler) GetNextOccurrence(ctx context.Context, cfg *models.ReminderConfig) (time.Time, bool) {
	return s.NextOccurrenceAfter(ctx, cfg, s.now())
}

// NextOccurrenceAfter walks forward from from, slot by slot, up to the
// horizon and returns the first candidate that is not suppressed.
func (s *Scheduler) NextOccurrenceAfter(ctx context.Context, cfg *models.ReminderConfig, from time.Time) (time.Time, bool) {
	r, ok := s.compile(cfg)
	if !ok {
		return time.Time{}, false
	}
	from = from.In(s.loc).Truncate(time.Minute)
	limit := from.AddDate(0, 0, s.horizonDays)
	today := dayKey(from)

	var snoozed time.Time
	if due, ok := s.pendingSnooze(cfg.ID, today); ok {
		if due.Before(from) {
			due = from
		}
		if !r.quietAt(minuteOfDay(due)) {
			snoozed = due
		}
	}

	minutes, slots := r.candidates()
	first := func() time.Time {
		for d := 0; d <= s.horizonDays; d++ {
			date := startOfDay(from).AddDate(0, 0, d)
			if !r.days[int(date.Weekday())] {
				continue
			}
			if d == 0 && !r.recurring && s.loggedOn(ctx, cfg.ID, from) {
				continue
			}
			for i, m := range minutes {
				c := at(date, m)
				if c.Before(from) {
					continue
				}
				if c.After(limit) {
					return time.Time{}
				}
				if r.quietAt(m) {
					continue
				}
				if d == 0 && s.hasFired(cfg.ID, today, slots[i]) {
					continue
				}
				return c
			}
		}
		return time.Time{}
	}()

	switch {
	case first.IsZero() && snoozed.IsZero():
		return time.Time{}, false
	case first.IsZero():
		return snoozed, true
	case !snoozed.IsZero() && snoozed.Before(first):
		return snoozed, true
	}
	return first, true
}

func (s *Scheduler) loggedOn(ctx context.Context, reminderID string, day time.Time) bool {
	if s.journal == nil {
		return false
	}
	logged, err := s.journal.LoggedOn(ctx, reminderID, day)
	if err != nil {
		logging.Warn("Failed to read action journal", map[string]interface{}{
			"reminder_id": reminderID,
			"error":       err.Error(),
		})
		return false
	}
	return logged
}

func (s *Scheduler) hasFired(reminderID, day string, slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fired[reminderID]
	return ok && f.day == day && f.slots[slot]
}

// markFired records slot and returns false if it was already recorded.
func (s *Scheduler) markFired(reminderID, day string, slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fired[reminderID]
	if !ok || f.day != day {
		f = &firedDay{day: day, slots: make(map[int]bool)}
		s.fired[reminderID] = f
	}
	if f.slots[slot] {
		return false
	}
	f.slots[slot] = true
	return true
}

func (s *Scheduler) takeDueSnooze(reminderID, day string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.snoozes[reminderID]
	if !ok || sn.day != day || !sn.pending || now.Before(sn.due) {
		return false
	}
	sn.pending = false
	return true
}

func (s *Scheduler) pendingSnooze(reminderID, day string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.snoozes[reminderID]
	if !ok || sn.day != day || !sn.pending {
		return time.Time{}, false
	}
	return sn.due, true
}

// SnoozeCount returns today's snooze count for cfg: the larger of the
// persisted count and the snoozes recorded locally today.
func (s *Scheduler) SnoozeCount(cfg *models.ReminderConfig) int {
	day := dayKey(s.now().In(s.loc))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snoozeCountLocked(cfg, day)
}

func (s *Scheduler) snoozeCountLocked(cfg *models.ReminderConfig, day string) int {
	count := cfg.SnoozeState.CurrentSnoozeCount
	if sn, ok := s.snoozes[cfg.ID]; ok && sn.day == day && sn.count > count {
		count = sn.count
	}
	return count
}

// CanSnooze reports whether a further snooze of today's occurrence may be accepted.
func (s *Scheduler) CanSnooze(cfg *models.ReminderConfig) bool {
	if cfg == nil {
		return false
	}
	return s.SnoozeCount(cfg) < cfg.SnoozeState.MaxSnoozes
}

// RecordSnooze counts a snooze of today's occurrence and schedules a single
// re-fire after minutes. It returns the new snooze count. The cap is not
// checked; dispatch goes through ReserveSnooze.
func (s *Scheduler) RecordSnooze(cfg *models.ReminderConfig, minutes int, snoozedAt time.Time) int {
	snoozedAt = snoozedAt.In(s.loc)
	day := dayKey(snoozedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.snoozeCountLocked(cfg, day) + 1
	s.snoozeDayLocked(cfg.ID, day).count = count
	s.scheduleRefireLocked(cfg.ID, day, minutes, snoozedAt)
	return count
}

// ReserveSnooze checks the cap and counts one snooze of the occurrence at
// snoozedAt in a single step. It returns the new count, or false when the
// reminder already reached MaxSnoozes.
func (s *Scheduler) ReserveSnooze(cfg *models.ReminderConfig, snoozedAt time.Time) (int, bool) {
	day := dayKey(snoozedAt.In(s.loc))

	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.snoozeCountLocked(cfg, day)
	if count >= cfg.SnoozeState.MaxSnoozes {
		return count, false
	}
	s.snoozeDayLocked(cfg.ID, day).count = count + 1
	return count + 1, true
}

// CancelSnooze gives back a reservation whose log was neither sent nor queued.
func (s *Scheduler) CancelSnooze(cfg *models.ReminderConfig, snoozedAt time.Time) {
	day := dayKey(snoozedAt.In(s.loc))

	s.mu.Lock()
	defer s.mu.Unlock()

	if sn, ok := s.snoozes[cfg.ID]; ok && sn.day == day && sn.count > cfg.SnoozeState.CurrentSnoozeCount {
		sn.count--
	}
}

// ScheduleRefire arms the single re-fire of a reserved snooze.
func (s *Scheduler) ScheduleRefire(cfg *models.ReminderConfig, minutes int, snoozedAt time.Time) {
	snoozedAt = snoozedAt.In(s.loc)
	day := dayKey(snoozedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleRefireLocked(cfg.ID, day, minutes, snoozedAt)
}

// snoozeDayLocked returns today's snooze record, replacing a stale one.
func (s *Scheduler) snoozeDayLocked(reminderID, day string) *snoozeDay {
	sn, ok := s.snoozes[reminderID]
	if !ok || sn.day != day {
		sn = &snoozeDay{day: day}
		s.snoozes[reminderID] = sn
	}
	return sn
}

func (s *Scheduler) scheduleRefireLocked(reminderID, day string, minutes int, snoozedAt time.Time) {
	sn := s.snoozeDayLocked(reminderID, day)
	sn.due = time.Time{}
	sn.pending = false
	if minutes > 0 {
		sn.due = snoozedAt.Add(time.Duration(minutes) * time.Minute)
		sn.pending = dayKey(sn.due) == day
	}
}
