package main

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

// deadPID is above the Linux pid_max ceiling, so no process can have it.
const deadPID = 99999999

func writePID(p *Paths, pid int) error {
	return newPIDFile(p, nil).write(pid)
}

func TestPIDFileRoundTrip(t *testing.T) {
	paths := testPaths(t, "")
	pids := newPIDFile(paths, nil)

	if err := pids.write(4242); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := pids.read()
	if err != nil || got != 4242 {
		t.Fatalf("read: got (%d, %v), want 4242", got, err)
	}
	entries, err := os.ReadDir(paths.Home)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("home holds %d entries, want only the PID file", len(entries))
	}

	if err := os.WriteFile(paths.PIDPath, []byte(" 77\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got, err := pids.read(); err != nil || got != 77 {
		t.Errorf("read padded: got (%d, %v)", got, err)
	}

	if err := pids.remove(); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := pids.remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if processAlive(deadPID) {
		t.Errorf("PID %d should not be alive", deadPID)
	}
	if processAlive(0) {
		t.Error("PID 0 should not be reported alive")
	}
}

func TestPIDFileState(t *testing.T) {
	tests := []struct {
		name    string
		content string // empty means no file
		want    daemonState
		wantPID int
		wantErr bool
	}{
		{name: "missing file", want: daemonStopped},
		{name: "live process", content: strconv.Itoa(os.Getpid()), want: daemonRunning, wantPID: os.Getpid()},
		{name: "dead process", content: strconv.Itoa(deadPID), want: daemonStale, wantPID: deadPID},
		{name: "corrupt file", content: "xyz", want: daemonStopped, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := testPaths(t, "")
			if tt.content != "" {
				if err := os.WriteFile(paths.PIDPath, []byte(tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			state, pid, err := newPIDFile(paths, nil).state()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if state != tt.want || pid != tt.wantPID {
				t.Errorf("got (%s, %d), want (%s, %d)", state, pid, tt.want, tt.wantPID)
			}
		})
	}
}

func TestClearStaleReportsInStatusFormat(t *testing.T) {
	paths := testPaths(t, "")
	if err := writePID(paths, deadPID); err != nil {
		t.Fatal(err)
	}
	var logs, out bytes.Buffer
	pids := newPIDFile(paths, log.New(&logs))

	state, pid, err := pids.clearStale(&out)
	if err != nil {
		t.Fatalf("clearStale: %v", err)
	}
	if state != daemonStopped || pid != 0 {
		t.Errorf("got (%s, %d), want (stopped, 0)", state, pid)
	}
	want := "daemon: stale PID file (PID " + strconv.Itoa(deadPID) + " not running), removed\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if !strings.Contains(logs.String(), "removed stale PID file") {
		t.Errorf("log = %q", logs.String())
	}
	if _, err := os.Stat(paths.PIDPath); !os.IsNotExist(err) {
		t.Errorf("stale PID file kept: %v", err)
	}
}

func TestClearStaleLeavesLiveDaemon(t *testing.T) {
	paths := testPaths(t, "")
	if err := writePID(paths, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer

	state, pid, err := newPIDFile(paths, nil).clearStale(&out)
	if err != nil || state != daemonRunning || pid != os.Getpid() {
		t.Fatalf("got (%s, %d, %v)", state, pid, err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestClaim(t *testing.T) {
	t.Run("replaces stale file", func(t *testing.T) {
		paths := testPaths(t, "")
		if err := writePID(paths, deadPID); err != nil {
			t.Fatal(err)
		}
		pids := newPIDFile(paths, nil)
		if err := pids.claim(); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if got, _ := pids.read(); got != os.Getpid() {
			t.Errorf("PID file holds %d, want %d", got, os.Getpid())
		}
	})

	t.Run("refuses another live daemon", func(t *testing.T) {
		paths := testPaths(t, "")
		parent := os.Getppid()
		if err := writePID(paths, parent); err != nil {
			t.Fatal(err)
		}
		err := newPIDFile(paths, nil).claim()
		if err == nil || !strings.Contains(err.Error(), "already running (PID "+strconv.Itoa(parent)+")") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestTerminateMissingPIDFile(t *testing.T) {
	if _, err := newPIDFile(testPaths(t, ""), nil).terminate(); err == nil {
		t.Fatal("expected error for missing PID file")
	}
}

func TestShutdownContextReleaseRemovesOwnPIDFile(t *testing.T) {
	paths := testPaths(t, "")
	pids := newPIDFile(paths, nil)
	if err := pids.claim(); err != nil {
		t.Fatal(err)
	}

	ctx, release := pids.shutdownContext(context.Background())
	release()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by release")
	}
	if _, err := os.Stat(paths.PIDPath); !os.IsNotExist(err) {
		t.Errorf("PID file still present: %v", err)
	}
}

func TestShutdownContextReleaseKeepsForeignPIDFile(t *testing.T) {
	paths := testPaths(t, "")
	pids := newPIDFile(paths, nil)
	_, release := pids.shutdownContext(context.Background())
	if err := writePID(paths, deadPID); err != nil {
		t.Fatal(err)
	}
	release()

	if _, err := os.Stat(paths.PIDPath); err != nil {
		t.Errorf("PID file of another process removed: %v", err)
	}
}
