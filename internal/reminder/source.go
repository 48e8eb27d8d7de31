package reminder

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
	"github.com/kimhsiao/habitnexus/internal/models"
)

// fileFormat is the on-disk layout of the reminders file.
type fileFormat struct {
	Reminders []models.ReminderConfig `yaml:"reminders"`
}

// LoadFile reads reminder configs from a YAML file. Duplicate or empty ids are rejected.
func LoadFile(path string) ([]models.ReminderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reminders file: %w", err)
	}
	return Parse(data)
}

// Parse decodes reminder configs from YAML.
func Parse(data []byte) ([]models.ReminderConfig, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to parse reminders", err)
	}

	seen := make(map[string]bool, len(f.Reminders))
	for i, r := range f.Reminders {
		if r.ID == "" {
			return nil, errors.New(errors.ErrValidation, fmt.Sprintf("reminder %d has no id", i))
		}
		if seen[r.ID] {
			return nil, errors.New(errors.ErrValidation, fmt.Sprintf("duplicate reminder id %q", r.ID))
		}
		seen[r.ID] = true
	}
	return f.Reminders, nil
}

// Source holds the current reminder set and reloads it when the file changes.
// A file that fails to parse leaves the previous set in place.
type Source struct {
	path string

	mu        sync.RWMutex
	reminders []models.ReminderConfig
	onReload  func([]models.ReminderConfig)
}

// NewSource loads path. A missing file yields an empty set.
func NewSource(path string) (*Source, error) {
	s := &Source{path: path}
	if err := s.Reload(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

// Path returns the watched file.
func (s *Source) Path() string {
	return s.path
}

// OnReload registers fn to run after every successful reload.
func (s *Source) OnReload(fn func([]models.ReminderConfig)) {
	s.mu.Lock()
	s.onReload = fn
	s.mu.Unlock()
}

// Reload re-reads the file and swaps the set atomically.
func (s *Source) Reload() error {
	reminders, err := LoadFile(s.path)
	if err != nil {
		return err
	}

	for i := range reminders {
		if verr := Validate(&reminders[i]); verr != nil {
			logging.Warn("Reminder is misconfigured and will never fire", map[string]interface{}{
				"reminder_id": reminders[i].ID,
				"error":       verr.Error(),
			})
		}
	}

	s.mu.Lock()
	s.reminders = reminders
	fn := s.onReload
	s.mu.Unlock()

	logging.Info("Reminders loaded", map[string]interface{}{
		"path":  s.path,
		"count": len(reminders),
	})
	if fn != nil {
		fn(s.Reminders())
	}
	return nil
}

// Reminders returns a copy of the current set.
func (s *Source) Reminders() []models.ReminderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ReminderConfig, len(s.reminders))
	for i, r := range s.reminders {
		r.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
		out[i] = r
	}
	return out
}

// Get returns the reminder with id.
func (s *Source) Get(id string) (*models.ReminderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reminders {
		if r.ID == id {
			r.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
			return &r, nil
		}
	}
	return nil, errors.New(errors.ErrReminderNotFound, fmt.Sprintf("reminder %q not found", id))
}

// Watch reloads the set whenever the file changes, until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch reminders directory %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				logging.Warn("Keeping previous reminders after failed reload", map[string]interface{}{
					"path":  s.path,
					"error": err.Error(),
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Reminder file watcher error", err, nil)
		}
	}
}
