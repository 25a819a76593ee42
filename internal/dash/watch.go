package dash

import (
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 100 * time.Millisecond

// fsChangeMsg is sent when the registry file changes.
type fsChangeMsg struct{}

// watcher watches the directory holding the registry file. The registry is
// replaced by rename, so the directory is watched rather than the file.
type watcher struct {
	fs   *fsnotify.Watcher
	name string
}

// newWatcher returns nil when the directory cannot be watched; the
// dashboard then relies on polling.
func newWatcher(registryPath string) *watcher {
	dir := filepath.Dir(registryPath)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil
	}
	return &watcher{fs: fw, name: filepath.Base(registryPath)}
}

// next blocks until the registry file changes, debounced.
func (w *watcher) next() tea.Cmd {
	return func() tea.Msg {
		var fire <-chan time.Time
		for {
			select {
			case ev, ok := <-w.fs.Events:
				if !ok {
					return nil
				}
				if filepath.Base(ev.Name) == w.name {
					fire = time.After(debounceDuration)
				}
			case <-fire:
				return fsChangeMsg{}
			case _, ok := <-w.fs.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (w *watcher) close() {
	if w != nil {
		_ = w.fs.Close()
	}
}
