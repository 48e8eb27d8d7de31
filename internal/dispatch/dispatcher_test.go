package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/habitnexus/internal/cache"
	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/interceptor"
	"github.com/kimhsiao/habitnexus/internal/models"
	"github.com/kimhsiao/habitnexus/internal/queue"
	"github.com/kimhsiao/habitnexus/internal/reminder"
)

type reminderMap map[string]*models.ReminderConfig

func (m reminderMap) Get(id string) (*models.ReminderConfig, error) {
	cfg, ok := m[id]
	if !ok {
		return nil, errors.New(errors.ErrReminderNotFound, fmt.Sprintf("reminder %q not found", id))
	}
	c := *cfg
	return &c, nil
}

type flakyFetcher struct {
	client  *http.Client
	offline atomic.Bool
}

func (f *flakyFetcher) Do(req *http.Request) (*http.Response, error) {
	if f.offline.Load() {
		return nil, stderrors.New("network is unreachable")
	}
	return f.client.Do(req)
}

type brokenQueue struct{ queue.Store }

func (brokenQueue) Enqueue(ctx context.Context, req *models.QueuedRequest) (models.UUID, error) {
	return "", errors.New(errors.ErrQueueUnavailable, "store corrupted")
}

type logServer struct {
	*httptest.Server
	mu       sync.Mutex
	payloads []map[string]interface{}
	auth     []string
}

func newLogServer(t *testing.T) *logServer {
	t.Helper()
	s := &logServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()

		switch p["action"] {
		case "completed", "dismissed", "snoozed":
			w.WriteHeader(http.StatusCreated)
		default:
			http.Error(w, `{"error":"unknown action"}`, http.StatusUnprocessableEntity)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

type fixture struct {
	server    *logServer
	fetcher   *flakyFetcher
	queue     *queue.MemoryStore
	journal   *MemoryJournal
	scheduler *reminder.Scheduler
	reminders reminderMap
	ic        *interceptor.Interceptor
	d         *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		server:    newLogServer(t),
		queue:     queue.NewMemoryStore(0),
		journal:   NewMemoryJournal(),
		scheduler: reminder.NewScheduler(nil, nil),
		reminders: reminderMap{
			"water": {ID: "water", Recurring: true, RecurringInterval: 30, RecurringStartTime: "09:00",
				RecurringEndTime: "17:00", DaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6},
				SnoozeState: models.SnoozeState{MaxSnoozes: 2}},
			"capped": {ID: "capped", Time: "08:00", DaysOfWeek: []int{1},
				SnoozeState: models.SnoozeState{CurrentSnoozeCount: 3, MaxSnoozes: 3}},
		},
	}
	f.fetcher = &flakyFetcher{client: f.server.Client()}
	base, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	f.ic = interceptor.New(f.fetcher, base, f.queue, cache.NewMemoryStore(), interceptor.DefaultConfig())
	f.d = New(f.ic, f.reminders, f.scheduler, f.journal, Config{Endpoint: "/api/reminder-logs", Token: "secret"})
	return f
}

func (f *fixture) received() []map[string]interface{} {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	return append([]map[string]interface{}(nil), f.server.payloads...)
}

func TestDispatch_completedOnline(t *testing.T) {
	f := newFixture(t)

	result, err := f.d.Dispatch(context.Background(), "water", models.ActionCompleted, nil)
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, http.StatusCreated, result.StatusCode)

	got := f.received()
	require.Len(t, got, 1)
	assert.Equal(t, "water", got[0]["reminderId"])
	assert.Equal(t, "completed", got[0]["action"])
	assert.NotContains(t, got[0], "snoozeMinutes")
	_, err = time.Parse(time.RFC3339, got[0]["timestamp"].(string))
	assert.NoError(t, err)
	assert.Equal(t, "Bearer secret", f.server.auth[0])

	logged, err := f.journal.LoggedOn(context.Background(), "water", time.Now())
	require.NoError(t, err)
	assert.True(t, logged)
}

func TestDispatch_queuedWhenOffline(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offline.Store(true)

	result, err := f.d.Dispatch(context.Background(), "water", models.ActionDismissed, nil)
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.NotEmpty(t, result.QueueID)

	items, err := f.queue.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, result.QueueID, items[0].ID)
	assert.Equal(t, models.PriorityHigh, items[0].Priority)
	assert.Equal(t, models.RequestTypeReminderLog, items[0].RequestType)
	assert.Equal(t, "Bearer secret", items[0].Headers.Get("Authorization"))
	assert.Equal(t, f.server.URL+"/api/reminder-logs", items[0].URL)

	var p models.ActionPayload
	require.NoError(t, json.Unmarshal(items[0].Body, &p))
	assert.Equal(t, models.ActionDismissed, p.Action)

	entries, _ := f.journal.List(context.Background(), "water", 0)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Queued)
}

func TestDispatch_snoozeCarriesCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Dispatch(ctx, "water", models.ActionSnoozed, intPtr(15))
	require.NoError(t, err)
	_, err = f.d.Dispatch(ctx, "water", models.ActionSnoozed, nil)
	require.NoError(t, err)

	got := f.received()
	require.Len(t, got, 2)
	assert.EqualValues(t, 15, got[0]["snoozeMinutes"])
	assert.EqualValues(t, 1, got[0]["snoozeCount"])
	assert.EqualValues(t, DefaultSnoozeMinutes, got[1]["snoozeMinutes"])
	assert.EqualValues(t, 2, got[1]["snoozeCount"])

	cfg, _ := f.reminders.Get("water")
	assert.Equal(t, 2, f.scheduler.SnoozeCount(cfg))
	assert.False(t, f.scheduler.CanSnooze(cfg))

	_, err = f.d.Dispatch(ctx, "water", models.ActionSnoozed, nil)
	assert.True(t, errors.Is(err, errors.ErrSnoozeLimitReached))
	assert.Len(t, f.received(), 2)
}

func TestDispatch_snoozeCapFromConfig(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Dispatch(context.Background(), "capped", models.ActionSnoozed, nil)
	assert.True(t, errors.Is(err, errors.ErrSnoozeLimitReached))
	assert.Empty(t, f.received())
	assert.Empty(t, f.journal.entries)
}

func TestDispatch_concurrentSnoozesRespectCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		limited  atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.d.Dispatch(ctx, "water", models.ActionSnoozed, nil)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, errors.ErrSnoozeLimitReached):
				limited.Add(1)
			default:
				t.Errorf("Dispatch() error = %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, accepted.Load())
	assert.EqualValues(t, 8, limited.Load())

	got := f.received()
	require.Len(t, got, 2)
	counts := []float64{got[0]["snoozeCount"].(float64), got[1]["snoozeCount"].(float64)}
	assert.ElementsMatch(t, []float64{1, 2}, counts)

	cfg, _ := f.reminders.Get("water")
	assert.Equal(t, 2, f.scheduler.SnoozeCount(cfg))
}

func TestDispatch_failedSnoozeReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offline.Store(true)
	base, _ := url.Parse(f.server.URL)
	ic := interceptor.New(f.fetcher, base, brokenQueue{}, nil, interceptor.DefaultConfig())
	d := New(ic, f.reminders, f.scheduler, f.journal, Config{})

	_, err := d.Dispatch(context.Background(), "water", models.ActionSnoozed, nil)
	require.Error(t, err)
	assert.True(t, errors.IsStoreFailure(err))

	cfg, _ := f.reminders.Get("water")
	assert.Zero(t, f.scheduler.SnoozeCount(cfg))
	assert.True(t, f.scheduler.CanSnooze(cfg))
}

func TestDispatch_rejectsMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Dispatch(ctx, "", models.ActionCompleted, nil)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = f.d.Dispatch(ctx, "water", models.Action("later"), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidAction))

	_, err = f.d.Dispatch(ctx, "water", models.ActionSnoozed, intPtr(-5))
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = f.d.Dispatch(ctx, "unknown", models.ActionSnoozed, nil)
	assert.True(t, errors.Is(err, errors.ErrReminderNotFound))

	assert.Empty(t, f.received())
	count, _ := f.queue.Count(ctx)
	assert.Zero(t, count, "malformed actions are never queued")
}

func TestDispatch_storeFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offline.Store(true)
	base, _ := url.Parse(f.server.URL)
	ic := interceptor.New(f.fetcher, base, brokenQueue{}, nil, interceptor.DefaultConfig())
	d := New(ic, f.reminders, f.scheduler, f.journal, Config{})

	_, err := d.Dispatch(context.Background(), "water", models.ActionCompleted, nil)
	require.Error(t, err)
	assert.True(t, errors.IsStoreFailure(err))
	assert.Empty(t, f.journal.entries)
}

func TestDispatch_appendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.d.Dispatch(ctx, "water", models.ActionCompleted, nil)
		require.NoError(t, err)
	}
	assert.Len(t, f.received(), 2)
	entries, _ := f.journal.List(ctx, "water", 0)
	assert.Len(t, entries, 2)
}

func TestDispatch_serverRejection(t *testing.T) {
	f := newFixture(t)
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"reminder deleted"}`, http.StatusNotFound)
	}))
	defer rejecting.Close()

	base, _ := url.Parse(rejecting.URL)
	ic := interceptor.New(rejecting.Client(), base, f.queue, nil, interceptor.DefaultConfig())
	d := New(ic, f.reminders, f.scheduler, f.journal, Config{})

	_, err := d.Dispatch(context.Background(), "water", models.ActionCompleted, nil)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Contains(t, err.Error(), "404")
	count, _ := f.queue.Count(context.Background())
	assert.Zero(t, count)
}
