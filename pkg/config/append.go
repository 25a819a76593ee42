package config

import (
	"fmt"
	"path/filepath"
	"sync"
)

// appendLocks serializes read-modify-write edits per config file.
var appendLocks sync.Map //nolint:gochecknoglobals // one lock per file for the process

func lockFor(path string) *sync.Mutex {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	mu, _ := appendLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// AppendThread records a dynamically created thread under the project whose
// primary channel is parentChannelID. An existing entry for the same thread
// is replaced, keeping its startup flag. ProjectPath equal to the project's
// own path is not written. Concurrent appends to the same file are
// serialized.
func AppendThread(path, serverName, parentChannelID string, t Thread) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := readRaw(path)
	if err != nil {
		return err
	}
	server, ok := cfg.Server(serverName)
	if !ok {
		return fmt.Errorf("append thread: %w: %q", ErrUnknownServer, serverName)
	}
	project, ok := server.ProjectByChannel(parentChannelID)
	if !ok {
		return fmt.Errorf("append thread: no project with channel %q in server %q", parentChannelID, serverName)
	}

	if ExpandHome(t.ProjectPath) == ExpandHome(project.ProjectPath) {
		t.ProjectPath = ""
	}
	replaced := false
	for i := range project.Threads {
		if project.Threads[i].ChannelID == t.ChannelID {
			t.Startup = project.Threads[i].Startup
			project.Threads[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		project.Threads = append(project.Threads, t)
	}
	return Save(path, cfg)
}

// ThreadAppender persists dynamically created threads for one config file.
type ThreadAppender struct {
	Path string
}

// AppendThread implements the router's thread persistence hook.
func (a ThreadAppender) AppendThread(serverName, parentChannelID string, t Thread) error {
	return AppendThread(a.Path, serverName, parentChannelID, t)
}
