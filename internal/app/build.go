package app

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/habitnexus/internal/cache"
	"github.com/kimhsiao/habitnexus/internal/config"
	"github.com/kimhsiao/habitnexus/internal/crypto"
	"github.com/kimhsiao/habitnexus/internal/db"
	"github.com/kimhsiao/habitnexus/internal/dispatch"
	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/interceptor"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/queue"
	"github.com/kimhsiao/habitnexus/internal/reminder"
	syncpkg "github.com/kimhsiao/habitnexus/internal/sync"
)

// Options controls how Build wires storage and the network.
type Options struct {
	// Ephemeral keeps the queue, cache and journal in memory.
	Ephemeral bool
	// Fetcher overrides the upstream HTTP client.
	Fetcher interceptor.Fetcher
	// Notifier receives fired reminders. Nil logs them.
	Notifier reminder.Notifier
}

// Build opens storage and wires every component from cfg. The returned App
// must be closed.
func Build(cfg *config.Config, opts Options) (*App, error) {
	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{}
	var responses cache.Store
	if opts.Ephemeral {
		a.Queue = queue.NewMemoryStore(cfg.Queue.MaxItems)
		responses = cache.NewMemoryStore()
		a.Journal = dispatch.NewMemoryJournal()
	} else {
		database, err := db.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, database)
		store, err := NewQueueStore(cfg, database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = store
		responses = cache.NewSQLiteStore(database.DB)
		a.Journal = dispatch.NewJournal(database.DB)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = &http.Client{Timeout: cfg.Upstream.Timeout}
	}

	icfg := interceptor.DefaultConfig()
	if cfg.Interceptor.OfflinePage != "" {
		icfg.OfflinePage = cfg.Interceptor.OfflinePage
	}
	if len(cfg.Interceptor.StaticPrefixes) > 0 {
		icfg.StaticPrefixes = cfg.Interceptor.StaticPrefixes
	}
	a.Interceptor = interceptor.New(fetcher, upstream, a.Queue, responses, icfg)

	a.Coordinator = syncpkg.NewCoordinator(a.Queue, fetcher, &syncpkg.Config{
		Interval:      cfg.Sync.Interval,
		ReplayTimeout: cfg.Sync.ReplayTimeout,
		MaxErrors:     syncpkg.DefaultConfig().MaxErrors,
	})
	a.Interceptor.SetEvents(a.Coordinator)

	if cfg.Sync.HealthPath != "" {
		health, err := a.Interceptor.Resolve(cfg.Sync.HealthPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Monitor = syncpkg.NewMonitor(fetcher, health.String(), cfg.Sync.ProbeInterval, a.Coordinator)
	}

	a.Reminders, err = reminder.NewSource(cfg.Reminders.File)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Scheduler = reminder.NewScheduler(a.Journal, &reminder.Config{
		Granularity: reminder.DefaultConfig().Granularity,
		HorizonDays: cfg.Reminders.HorizonDays,
		Location:    loc,
	})

	notifier := opts.Notifier
	if notifier == nil {
		notifier = reminder.NotifierFunc(logNotification)
	}
	a.Runner = reminder.NewRunner(a.Scheduler, a.Reminders, notifier, cfg.Reminders.PollInterval)

	a.Dispatcher = dispatch.New(a.Interceptor, a.Reminders, a.Scheduler, a.Journal, dispatch.Config{
		Endpoint: cfg.Reminders.LogEndpoint,
		Token:    cfg.Auth.Token,
	})

	return a, nil
}

// NewQueueStore creates the durable queue over database. Credential headers
// are sealed when storage.secret is set.
func NewQueueStore(cfg *config.Config, database *db.DB) (*queue.SQLiteStore, error) {
	store := queue.NewSQLiteStore(database.DB, cfg.Queue.MaxItems)
	if cfg.Storage.Secret == "" {
		if cfg.Auth.Token != "" {
			logging.Warn("storage.secret is not set; queued requests keep the bearer token in plaintext")
		}
		return store, nil
	}
	sealer, err := crypto.NewSealer(cfg.Storage.Secret)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "invalid storage.secret", err)
	}
	return store.WithSealer(sealer), nil
}

func logNotification(ctx context.Context, n reminder.Notification) error {
	logging.Info("Reminder due", map[string]interface{}{
		"reminder_id":  n.Reminder.ID,
		"fired_at":     n.FiredAt,
		"snooze_count": n.SnoozeCount,
		"can_snooze":   n.CanSnooze,
	})
	return nil
}

// Run starts the background loops and blocks until ctx is cancelled or one
// of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Coordinator.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		a.Coordinator.Stop()
		return nil
	})
	if a.Monitor != nil {
		g.Go(func() error { return a.Monitor.Run(ctx) })
	}
	g.Go(func() error {
		if err := a.Reminders.Watch(ctx); err != nil {
			logging.Warn("Reminder file changes will not be picked up", map[string]interface{}{
				"path":  a.Reminders.Path(),
				"error": err.Error(),
			})
		}
		return nil
	})
	g.Go(func() error { return a.Runner.Run(ctx) })

	return g.Wait()
}

// Close waits for pending cache writes and releases storage.
func (a *App) Close() error {
	if a.Interceptor != nil {
		a.Interceptor.WaitCacheWrites()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

var _ io.Closer = (*App)(nil)
