package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
)

// daemonState is what the PID file says about the daemon process.
type daemonState string

const (
	daemonRunning daemonState = "running"
	daemonStopped daemonState = "stopped"
	daemonStale   daemonState = "stale"
)

// describeDaemon renders a state the way "chatmux status" prints it.
func describeDaemon(state daemonState, pid int) string {
	switch state {
	case daemonRunning:
		return fmt.Sprintf("running (PID %d)", pid)
	case daemonStale:
		return fmt.Sprintf("stale PID file (PID %d not running)", pid)
	default:
		return "stopped"
	}
}

// pidFile is the daemon PID file under the chatmux home.
type pidFile struct {
	path   string
	logger *log.Logger
}

func newPIDFile(p *Paths, logger *log.Logger) *pidFile {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &pidFile{path: p.PIDPath, logger: logger.WithPrefix("pidfile")}
}

func (f *pidFile) read() (int, error) {
	data, err := os.ReadFile(f.path) //nolint:gosec // resolved from the chatmux home
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", f.path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", f.path, err)
	}
	return pid, nil
}

// write records pid. Readers never see a partial file.
func (f *pidFile) write(pid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write PID file %s: %w", f.path, err)
	}
	_, err = tmp.WriteString(strconv.Itoa(pid))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), f.path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write PID file %s: %w", f.path, err)
	}
	return nil
}

// remove is idempotent.
func (f *pidFile) remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file %s: %w", f.path, err)
	}
	return nil
}

// state reports the daemon state and the recorded PID (0 when stopped). A
// PID file that cannot be parsed is an error.
func (f *pidFile) state() (daemonState, int, error) {
	pid, err := f.read()
	if errors.Is(err, os.ErrNotExist) {
		return daemonStopped, 0, nil
	}
	if err != nil {
		return daemonStopped, 0, fmt.Errorf("daemon status: %w", err)
	}
	if processAlive(pid) {
		return daemonRunning, pid, nil
	}
	return daemonStale, pid, nil
}

// clearStale removes a stale PID file and reports it on w in the status
// format. The returned state is what remains afterwards.
func (f *pidFile) clearStale(w io.Writer) (daemonState, int, error) {
	state, pid, err := f.state()
	if err != nil || state != daemonStale {
		return state, pid, err
	}
	if err := f.remove(); err != nil {
		return state, pid, err
	}
	fmt.Fprintf(w, "daemon: %s, removed\n", describeDaemon(state, pid))
	f.logger.Info("removed stale PID file", "pid", pid, "path", f.path)
	return daemonStopped, 0, nil
}

// claim records this process as the daemon. It fails while another live
// process holds the file.
func (f *pidFile) claim() error {
	state, pid, err := f.state()
	if err != nil {
		return err
	}
	self := os.Getpid()
	switch {
	case state == daemonRunning && pid != self:
		return fmt.Errorf("chatmux is already running (PID %d)", pid)
	case state == daemonStale:
		f.logger.Info("replacing stale PID file", "pid", pid)
	}
	return f.write(self)
}

// terminate sends SIGTERM to the recorded daemon and returns its PID.
func (f *pidFile) terminate() (int, error) {
	pid, err := f.read()
	if err != nil {
		return 0, fmt.Errorf("stop daemon: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("send SIGTERM to PID %d: %w", pid, err)
	}
	f.logger.Debug("sent SIGTERM", "pid", pid)
	return pid, nil
}

// shutdownContext is cancelled by SIGTERM or SIGINT. release stops signal
// delivery and removes the PID file while it still names this process.
func (f *pidFile) shutdownContext(parent context.Context) (ctx context.Context, release func()) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	return ctx, func() {
		stop()
		if pid, err := f.read(); err != nil || pid != os.Getpid() {
			return
		}
		if err := f.remove(); err != nil {
			f.logger.Warn("remove PID file", "err", err)
		}
	}
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
