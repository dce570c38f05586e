package packages

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the skills directories and fires a reload callback when
// packages change out-of-band (manual installs, external syncs). Events are
// debounced so a multi-file copy triggers one reload.
type Watcher struct {
	manager  *Manager
	onChange func()
	debounce time.Duration
}

// NewWatcher creates a watcher that calls onChange after package mutations.
func NewWatcher(manager *Manager, onChange func()) *Watcher {
	return &Watcher{
		manager:  manager,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	// Watch the skills parent and its generated subdirectory; other package
	// types have no runtime-visible state to refresh.
	skillsDir := filepath.Join(w.manager.Root(), TypeSkill.Dir())
	for _, dir := range []string{skillsDir, filepath.Join(skillsDir, "generated")} {
		if err := fsw.Add(dir); err != nil {
			slog.Debug("packages: not watching", "dir", dir, "error", err)
		}
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("packages: watcher error", "error", err)
		case <-fire:
			slog.Info("packages: change detected, reloading skills")
			w.onChange()
		}
	}
}
