package reminder

import (
	"context"
	"time"

	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// Notification is surfaced to the user when a reminder fires.
type Notification struct {
	Reminder    models.ReminderConfig `json:"reminder"`
	FiredAt     time.Time             `json:"firedAt"`
	SnoozeCount int                   `json:"snoozeCount"`
	CanSnooze   bool                  `json:"canSnooze"`
}

// Notifier surfaces fired reminders.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Provider supplies the reminders to evaluate on each tick.
type Provider interface {
	Reminders() []models.ReminderConfig
}

// Runner polls every reminder at the scheduler's granularity.
type Runner struct {
	scheduler *Scheduler
	provider  Provider
	notifier  Notifier
	interval  time.Duration
}

// NewRunner creates a Runner. interval defaults to one minute.
func NewRunner(scheduler *Scheduler, provider Provider, notifier Notifier, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		scheduler: scheduler,
		provider:  provider,
		notifier:  notifier,
		interval:  interval,
	}
}

// ProcessReminder evaluates cfg at the current instant and notifies if it is
// due. It returns whether the reminder fired.
func (r *Runner) ProcessReminder(ctx context.Context, cfg *models.ReminderConfig) (bool, error) {
	now := r.scheduler.now()
	if !r.scheduler.ShouldFireNow(ctx, cfg, now) {
		return false, nil
	}

	n := Notification{
		Reminder:    *cfg,
		FiredAt:     now,
		SnoozeCount: r.scheduler.SnoozeCount(cfg),
		CanSnooze:   r.scheduler.CanSnooze(cfg),
	}
	logging.Info("Reminder fired", map[string]interface{}{
		"reminder_id": cfg.ID,
		"title":       cfg.Title,
	})
	if r.notifier == nil {
		return true, nil
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		logging.Error("Failed to deliver reminder notification", err, map[string]interface{}{"reminder_id": cfg.ID})
		return true, err
	}
	return true, nil
}

// Tick processes every reminder once and returns how many fired.
func (r *Runner) Tick(ctx context.Context) int {
	fired := 0
	for _, cfg := range r.provider.Reminders() {
		cfg := cfg
		ok, _ := r.ProcessReminder(ctx, &cfg)
		if ok {
			fired++
		}
	}
	return fired
}

// Run ticks immediately and then every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	logging.Info("Reminder runner started", map[string]interface{}{
		"interval_seconds": r.interval.Seconds(),
	})
	r.Tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Reminder runner stopped", nil)
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
