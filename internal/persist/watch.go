package persist

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of fsnotify events a single atomic
// rename tends to produce (REMOVE + CREATE on most filesystems) into one
// onChange call.
const debounceWindow = 250 * time.Millisecond

// Watcher wraps fsnotify to report when the roster file changes
// underneath the running process — an operator or a config-management
// tool editing roster.json directly, outside the operator API. It only
// calls the onChange callback; it does not reload the roster itself.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// WatchRoster starts watching the Store's roster file and calls onChange
// (debounced) whenever it's written. The returned Watcher must be closed
// by the caller.
func WatchRoster(s *Store, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(s.RosterPath())); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw}
	go w.run(s.RosterPath(), onChange)
	return w, nil
}

func (w *Watcher) run(rosterPath string, onChange func()) {
	var timer *time.Timer
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != rosterPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, onChange)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
