package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// =====================================================
// Test Helpers
// =====================================================

var everyDay = []int{0, 1, 2, 3, 4, 5, 6}

// monday returns 2026-10-19 (a Monday) at hh:mm UTC.
func monday(hh, mm int) time.Time {
	return time.Date(2026, 10, 19, hh, mm, 0, 0, time.UTC)
}

type fakeJournal struct {
	logged map[string]bool
}

func (j *fakeJournal) LoggedOn(ctx context.Context, reminderID string, day time.Time) (bool, error) {
	return j.logged[reminderID+"@"+dayKey(day)], nil
}

func newTestScheduler(j Journal) *Scheduler {
	s := NewScheduler(j, &Config{
		Granularity: time.Minute,
		HorizonDays: 7,
		Location:    time.UTC,
	})
	s.now = func() time.Time { return monday(9, 0) }
	return s
}

func recurringConfig() *models.ReminderConfig {
	return &models.ReminderConfig{
		ID:                 "water",
		Title:              "Drink water",
		Recurring:          true,
		RecurringInterval:  30,
		RecurringStartTime: "09:00",
		RecurringEndTime:   "17:00",
		DaysOfWeek:         everyDay,
		SnoozeState:        models.SnoozeState{MaxSnoozes: 3},
	}
}

func singleConfig(at string) *models.ReminderConfig {
	return &models.ReminderConfig{
		ID:          "vitamins",
		Title:       "Take vitamins",
		Time:        at,
		DaysOfWeek:  everyDay,
		SnoozeState: models.SnoozeState{MaxSnoozes: 3},
	}
}

// =====================================================
// Clock Tests
// =====================================================

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{" 7:05 ", 425, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"12:5", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInWindow(t *testing.T) {
	tests := []struct {
		name       string
		minute     int
		start, end int
		want       bool
	}{
		{"inside plain window", 600, 540, 1020, true},
		{"start is inclusive", 540, 540, 1020, true},
		{"end is inclusive", 1020, 540, 1020, true},
		{"outside plain window", 1021, 540, 1020, false},
		{"wrap before midnight", 1410, 1320, 420, true},
		{"wrap after midnight", 180, 1320, 420, true},
		{"wrap end inclusive", 420, 1320, 420, true},
		{"wrap midday", 720, 1320, 420, false},
		{"single minute", 600, 600, 600, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inWindow(tt.minute, tt.start, tt.end); got != tt.want {
				t.Errorf("inWindow(%d, %d, %d) = %v, want %v", tt.minute, tt.start, tt.end, got, tt.want)
			}
		})
	}
}

// =====================================================
// ShouldFireNow Tests
// =====================================================

func TestShouldFireNow_quietHoursWraparound(t *testing.T) {
	cfg := recurringConfig()
	cfg.RecurringStartTime = "00:00"
	cfg.RecurringEndTime = "23:59"
	cfg.QuietHoursEnabled = true
	cfg.QuietHoursStart = "22:00"
	cfg.QuietHoursEnd = "07:00"

	tests := []struct {
		at   time.Time
		want bool
	}{
		{monday(23, 30), false},
		{monday(3, 0), false},
		{monday(12, 0), true},
	}
	for _, tt := range tests {
		s := newTestScheduler(nil)
		if got := s.ShouldFireNow(context.Background(), cfg, tt.at); got != tt.want {
			t.Errorf("ShouldFireNow(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.want)
		}
	}

	cfg.QuietHoursEnabled = false
	s := newTestScheduler(nil)
	if !s.ShouldFireNow(context.Background(), cfg, monday(23, 30)) {
		t.Error("ShouldFireNow(23:30) with quiet hours disabled = false, want true")
	}
}

func TestShouldFireNow_recurrenceSlotDedup(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := recurringConfig()
	ctx := context.Background()

	steps := []struct {
		at   time.Time
		want bool
	}{
		{monday(9, 0), true},
		{monday(9, 0).Add(40 * time.Second), false},
		{monday(9, 29), false},
		{monday(9, 30), true},
		{monday(9, 30), false},
		{monday(10, 0), true},
	}
	for _, step := range steps {
		if got := s.ShouldFireNow(ctx, cfg, step.at); got != step.want {
			t.Errorf("ShouldFireNow(%s) = %v, want %v", step.at.Format("15:04:05"), got, step.want)
		}
	}
}

func TestShouldFireNow_recurringWindow(t *testing.T) {
	cfg := recurringConfig()
	tests := []struct {
		at   time.Time
		want bool
	}{
		{monday(8, 30), false},
		{monday(17, 0), true},
		{monday(17, 30), false},
		{monday(12, 15), false},
	}
	for _, tt := range tests {
		s := newTestScheduler(nil)
		if got := s.ShouldFireNow(context.Background(), cfg, tt.at); got != tt.want {
			t.Errorf("ShouldFireNow(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.want)
		}
	}
}

func TestShouldFireNow_granularity(t *testing.T) {
	s := NewScheduler(nil, &Config{Granularity: 5 * time.Minute, Location: time.UTC})
	cfg := recurringConfig()

	if !s.ShouldFireNow(context.Background(), cfg, monday(9, 33)) {
		t.Error("ShouldFireNow(09:33) with 5m granularity = false, want true")
	}
	if s.ShouldFireNow(context.Background(), cfg, monday(9, 34)) {
		t.Error("ShouldFireNow(09:34) fired the 09:30 slot twice")
	}
}

func TestShouldFireNow_weekdayFilter(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := recurringConfig()
	cfg.DaysOfWeek = []int{2} // Tuesday

	if s.ShouldFireNow(context.Background(), cfg, monday(9, 0)) {
		t.Error("ShouldFireNow on an ineligible weekday = true")
	}
	if !s.ShouldFireNow(context.Background(), cfg, monday(9, 0).AddDate(0, 0, 1)) {
		t.Error("ShouldFireNow on Tuesday 09:00 = false")
	}
}

func TestShouldFireNow_slotsResetDaily(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := recurringConfig()

	if !s.ShouldFireNow(context.Background(), cfg, monday(9, 0)) {
		t.Fatal("first fire = false")
	}
	if !s.ShouldFireNow(context.Background(), cfg, monday(9, 0).AddDate(0, 0, 1)) {
		t.Error("same slot on the next day = false")
	}
}

func TestShouldFireNow_singleFire(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("08:15")
	ctx := context.Background()

	if s.ShouldFireNow(ctx, cfg, monday(8, 14)) {
		t.Error("fired before its time")
	}
	if !s.ShouldFireNow(ctx, cfg, monday(8, 15)) {
		t.Error("did not fire at its time")
	}
	if s.ShouldFireNow(ctx, cfg, monday(8, 15).Add(30*time.Second)) {
		t.Error("fired twice in the same day")
	}
	if s.ShouldFireNow(ctx, cfg, monday(8, 16)) {
		t.Error("fired outside the polling granularity")
	}
}

func TestShouldFireNow_singleFireAlreadyLogged(t *testing.T) {
	j := &fakeJournal{logged: map[string]bool{"vitamins@2026-10-19": true}}
	s := newTestScheduler(j)
	cfg := singleConfig("08:15")

	if s.ShouldFireNow(context.Background(), cfg, monday(8, 15)) {
		t.Error("fired although an action was logged today")
	}
	if !s.ShouldFireNow(context.Background(), cfg, monday(8, 15).AddDate(0, 0, 1)) {
		t.Error("did not fire on the next day")
	}
}

func TestShouldFireNow_misconfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ReminderConfig)
	}{
		{"zero interval", func(c *models.ReminderConfig) { c.RecurringInterval = 0 }},
		{"negative interval", func(c *models.ReminderConfig) { c.RecurringInterval = -15 }},
		{"bad start", func(c *models.ReminderConfig) { c.RecurringStartTime = "9am" }},
		{"bad end", func(c *models.ReminderConfig) { c.RecurringEndTime = "25:00" }},
		{"empty window", func(c *models.ReminderConfig) { c.RecurringStartTime, c.RecurringEndTime = "17:00", "09:00" }},
		{"bad quiet hours", func(c *models.ReminderConfig) {
			c.QuietHoursEnabled = true
			c.QuietHoursStart = "22"
			c.QuietHoursEnd = "07:00"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := recurringConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if !errors.Is(err, errors.ErrReminderMisconfigured) {
				t.Errorf("Validate() error = %v, want REMINDER_MISCONFIGURED", err)
			}

			s := newTestScheduler(nil)
			for _, at := range []time.Time{monday(9, 0), monday(12, 0), monday(17, 0)} {
				if s.ShouldFireNow(context.Background(), cfg, at) {
					t.Errorf("misconfigured reminder fired at %s", at.Format("15:04"))
				}
			}
			if _, ok := s.NextOccurrenceAfter(context.Background(), cfg, monday(8, 0)); ok {
				t.Error("misconfigured reminder has a next occurrence")
			}
		})
	}

	if err := Validate(singleConfig("noon")); !errors.Is(err, errors.ErrReminderMisconfigured) {
		t.Errorf("Validate(single with bad time) error = %v", err)
	}
	if err := Validate(nil); err == nil {
		t.Error("Validate(nil) error = nil")
	}
}

// =====================================================
// Snooze Tests
// =====================================================

func TestCanSnooze_cap(t *testing.T) {
	s := newTestScheduler(nil)

	capped := singleConfig("08:00")
	capped.SnoozeState = models.SnoozeState{CurrentSnoozeCount: 3, MaxSnoozes: 3}
	if s.CanSnooze(capped) {
		t.Error("CanSnooze() with 3/3 = true, want false")
	}

	open := singleConfig("08:00")
	open.SnoozeState = models.SnoozeState{CurrentSnoozeCount: 2, MaxSnoozes: 3}
	if !s.CanSnooze(open) {
		t.Error("CanSnooze() with 2/3 = false, want true")
	}
	if got := s.RecordSnooze(open, 10, monday(9, 0)); got != 3 {
		t.Errorf("RecordSnooze() = %d, want 3", got)
	}
	if s.CanSnooze(open) {
		t.Error("CanSnooze() after reaching the cap = true")
	}

	none := singleConfig("08:00")
	none.SnoozeState = models.SnoozeState{}
	if s.CanSnooze(none) {
		t.Error("CanSnooze() with max 0 = true")
	}
	if s.CanSnooze(nil) {
		t.Error("CanSnooze(nil) = true")
	}
}

func TestSnoozeCount_resetsDaily(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("08:00")

	s.RecordSnooze(cfg, 5, monday(8, 0))
	s.RecordSnooze(cfg, 5, monday(8, 6))
	if got := s.SnoozeCount(cfg); got != 2 {
		t.Errorf("SnoozeCount() = %d, want 2", got)
	}

	s.now = func() time.Time { return monday(8, 0).AddDate(0, 0, 1) }
	if got := s.SnoozeCount(cfg); got != 0 {
		t.Errorf("SnoozeCount() on the next day = %d, want 0", got)
	}
}

func TestReserveSnooze_concurrentCap(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("08:00")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if count, ok := s.ReserveSnooze(cfg, monday(8, 1)); ok {
				mu.Lock()
				accepted = append(accepted, count)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(accepted) != 3 {
		t.Fatalf("accepted %d reservations, want 3", len(accepted))
	}
	seen := map[int]bool{}
	for _, c := range accepted {
		seen[c] = true
	}
	for want := 1; want <= 3; want++ {
		if !seen[want] {
			t.Errorf("count %d was never handed out: %v", want, accepted)
		}
	}
	if got := s.SnoozeCount(cfg); got != 3 {
		t.Errorf("SnoozeCount() = %d, want 3", got)
	}
}

func TestCancelSnooze(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("08:00")
	cfg.SnoozeState = models.SnoozeState{CurrentSnoozeCount: 1, MaxSnoozes: 2}

	count, ok := s.ReserveSnooze(cfg, monday(8, 1))
	if !ok || count != 2 {
		t.Fatalf("ReserveSnooze() = %d, %v, want 2, true", count, ok)
	}
	if _, ok := s.ReserveSnooze(cfg, monday(8, 2)); ok {
		t.Error("ReserveSnooze() past the cap = true")
	}

	s.CancelSnooze(cfg, monday(8, 1))
	if got := s.SnoozeCount(cfg); got != 1 {
		t.Errorf("SnoozeCount() after cancel = %d, want 1", got)
	}
	// The persisted count is a floor.
	s.CancelSnooze(cfg, monday(8, 1))
	if got := s.SnoozeCount(cfg); got != 1 {
		t.Errorf("SnoozeCount() after second cancel = %d, want 1", got)
	}
	if !s.CanSnooze(cfg) {
		t.Error("CanSnooze() after cancel = false")
	}
}

func TestScheduleRefire_afterReservation(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("08:00")
	ctx := context.Background()

	if !s.ShouldFireNow(ctx, cfg, monday(8, 0)) {
		t.Fatal("initial fire = false")
	}
	if _, ok := s.ReserveSnooze(cfg, monday(8, 1)); !ok {
		t.Fatal("ReserveSnooze() = false")
	}
	if s.ShouldFireNow(ctx, cfg, monday(8, 11)) {
		t.Error("re-fired for a reservation that was never armed")
	}

	s.ScheduleRefire(cfg, 10, monday(8, 1))
	if !s.ShouldFireNow(ctx, cfg, monday(8, 12)) {
		t.Error("did not re-fire after ScheduleRefire")
	}
}

func TestShouldFireNow_snoozeRefire(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("08:00")
	ctx := context.Background()

	if !s.ShouldFireNow(ctx, cfg, monday(8, 0)) {
		t.Fatal("initial fire = false")
	}
	s.RecordSnooze(cfg, 10, monday(8, 1))

	if s.ShouldFireNow(ctx, cfg, monday(8, 5)) {
		t.Error("fired before the snooze elapsed")
	}
	if !s.ShouldFireNow(ctx, cfg, monday(8, 11)) {
		t.Error("did not re-fire after the snooze")
	}
	if s.ShouldFireNow(ctx, cfg, monday(8, 12)) {
		t.Error("re-fired twice for one snooze")
	}
}

func TestShouldFireNow_snoozeDueInQuietHoursIsSkipped(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("21:50")
	cfg.QuietHoursEnabled = true
	cfg.QuietHoursStart = "22:00"
	cfg.QuietHoursEnd = "07:00"
	ctx := context.Background()

	if !s.ShouldFireNow(ctx, cfg, monday(21, 50)) {
		t.Fatal("initial fire = false")
	}
	s.RecordSnooze(cfg, 15, monday(21, 51))

	if s.ShouldFireNow(ctx, cfg, monday(22, 6)) {
		t.Error("snooze re-fired during quiet hours")
	}
	if s.ShouldFireNow(ctx, cfg, monday(22, 7)) {
		t.Error("suppressed snooze was deferred instead of skipped")
	}
}

// =====================================================
// NextOccurrence Tests
// =====================================================

func TestNextOccurrenceAfter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		cfg    func() *models.ReminderConfig
		from   time.Time
		want   time.Time
		wantOK bool
	}{
		{
			name:   "next slot today",
			cfg:    recurringConfig,
			from:   monday(9, 10),
			want:   monday(9, 30),
			wantOK: true,
		},
		{
			name:   "current minute counts",
			cfg:    recurringConfig,
			from:   monday(9, 30).Add(20 * time.Second),
			want:   monday(9, 30),
			wantOK: true,
		},
		{
			name:   "after window rolls to tomorrow",
			cfg:    recurringConfig,
			from:   monday(17, 5),
			want:   monday(9, 0).AddDate(0, 0, 1),
			wantOK: true,
		},
		{
			name: "skips ineligible weekdays",
			cfg: func() *models.ReminderConfig {
				c := recurringConfig()
				c.DaysOfWeek = []int{3}
				return c
			},
			from:   monday(8, 0),
			want:   monday(9, 0).AddDate(0, 0, 2),
			wantOK: true,
		},
		{
			name: "skips quiet slots",
			cfg: func() *models.ReminderConfig {
				c := recurringConfig()
				c.QuietHoursEnabled = true
				c.QuietHoursStart = "09:00"
				c.QuietHoursEnd = "10:00"
				return c
			},
			from:   monday(8, 0),
			want:   monday(10, 30),
			wantOK: true,
		},
		{
			name: "no eligible weekdays",
			cfg: func() *models.ReminderConfig {
				c := recurringConfig()
				c.DaysOfWeek = nil
				return c
			},
			from:   monday(8, 0),
			wantOK: false,
		},
		{
			name:   "single fire later today",
			cfg:    func() *models.ReminderConfig { return singleConfig("20:00") },
			from:   monday(8, 0),
			want:   monday(20, 0),
			wantOK: true,
		},
		{
			name:   "single fire already passed",
			cfg:    func() *models.ReminderConfig { return singleConfig("07:00") },
			from:   monday(8, 0),
			want:   monday(7, 0).AddDate(0, 0, 1),
			wantOK: true,
		},
		{
			name: "weekly reminder within horizon",
			cfg: func() *models.ReminderConfig {
				c := singleConfig("07:00")
				c.DaysOfWeek = []int{1}
				return c
			},
			from:   monday(8, 0),
			want:   monday(7, 0).AddDate(0, 0, 7),
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(nil)
			got, ok := s.NextOccurrenceAfter(ctx, tt.cfg(), tt.from)
			if ok != tt.wantOK {
				t.Fatalf("NextOccurrenceAfter() ok = %v, want %v (got %v)", ok, tt.wantOK, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("NextOccurrenceAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextOccurrenceAfter_horizon(t *testing.T) {
	s := NewScheduler(nil, &Config{HorizonDays: 1, Location: time.UTC})
	cfg := recurringConfig()
	cfg.DaysOfWeek = []int{5} // Friday

	if got, ok := s.NextOccurrenceAfter(context.Background(), cfg, monday(8, 0)); ok {
		t.Errorf("NextOccurrenceAfter() beyond horizon = %v, want none", got)
	}
}

func TestNextOccurrenceAfter_skipsFiredSlotsAndLoggedDays(t *testing.T) {
	ctx := context.Background()

	s := newTestScheduler(nil)
	cfg := recurringConfig()
	s.ShouldFireNow(ctx, cfg, monday(9, 0))
	got, ok := s.NextOccurrenceAfter(ctx, cfg, monday(9, 0))
	if !ok || !got.Equal(monday(9, 30)) {
		t.Errorf("NextOccurrenceAfter() = %v, %v; want 09:30", got, ok)
	}

	j := &fakeJournal{logged: map[string]bool{"vitamins@2026-10-19": true}}
	s = newTestScheduler(j)
	got, ok = s.NextOccurrenceAfter(ctx, singleConfig("20:00"), monday(8, 0))
	if !ok || !got.Equal(monday(20, 0).AddDate(0, 0, 1)) {
		t.Errorf("NextOccurrenceAfter() with today logged = %v, %v; want tomorrow 20:00", got, ok)
	}
}

func TestNextOccurrenceAfter_pendingSnooze(t *testing.T) {
	s := newTestScheduler(nil)
	cfg := singleConfig("20:00")
	s.RecordSnooze(cfg, 10, monday(8, 0))

	got, ok := s.NextOccurrenceAfter(context.Background(), cfg, monday(8, 1))
	if !ok || !got.Equal(monday(8, 10)) {
		t.Errorf("NextOccurrenceAfter() = %v, %v; want the snooze at 08:10", got, ok)
	}
}

func TestGetNextOccurrence_usesClock(t *testing.T) {
	s := newTestScheduler(nil)
	s.now = func() time.Time { return monday(9, 45) }

	got, ok := s.GetNextOccurrence(context.Background(), recurringConfig())
	if !ok || !got.Equal(monday(10, 0)) {
		t.Errorf("GetNextOccurrence() = %v, %v; want 10:00", got, ok)
	}
}

func TestShouldFireNow_location(t *testing.T) {
	tz := time.FixedZone("UTC+8", 8*60*60)
	s := NewScheduler(nil, &Config{Location: tz})
	cfg := recurringConfig()

	// 01:00 UTC is 09:00 in UTC+8.
	if !s.ShouldFireNow(context.Background(), cfg, monday(1, 0)) {
		t.Error("reminder times are not interpreted in the configured zone")
	}
}
