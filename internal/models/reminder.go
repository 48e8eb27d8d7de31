package models

// SnoozeState bounds how often a single day's occurrence may be deferred.
type SnoozeState struct {
	CurrentSnoozeCount int `yaml:"currentSnoozeCount" json:"currentSnoozeCount"`
	MaxSnoozes         int `yaml:"maxSnoozes" json:"maxSnoozes"`
}

// ReminderConfig is the scheduler's read-only view of a persisted reminder.
// Times of day are "HH:MM"; DaysOfWeek holds 0=Sunday..6=Saturday.
type ReminderConfig struct {
	ID       string `yaml:"id" json:"id"`
	Title    string `yaml:"title" json:"title"`
	Category string `yaml:"category" json:"category"`

	// Time is the fire time of a non-recurring reminder.
	Time string `yaml:"time" json:"time"`

	Recurring          bool   `yaml:"recurring" json:"recurring"`
	RecurringInterval  int    `yaml:"recurringInterval" json:"recurringInterval"`
	RecurringStartTime string `yaml:"recurringStartTime" json:"recurringStartTime"`
	RecurringEndTime   string `yaml:"recurringEndTime" json:"recurringEndTime"`

	DaysOfWeek []int `yaml:"daysOfWeek" json:"daysOfWeek"`

	QuietHoursEnabled bool   `yaml:"quietHoursEnabled" json:"quietHoursEnabled"`
	QuietHoursStart   string `yaml:"quietHoursStart" json:"quietHoursStart"`
	QuietHoursEnd     string `yaml:"quietHoursEnd" json:"quietHoursEnd"`

	SnoozeState SnoozeState `yaml:"snoozeState" json:"snoozeState"`
}

// EligibleOn reports whether weekday (0=Sunday) is in DaysOfWeek.
func (c *ReminderConfig) EligibleOn(weekday int) bool {
	for _, d := range c.DaysOfWeek {
		if d == weekday {
			return true
		}
	}
	return false
}
