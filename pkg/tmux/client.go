// Package tmux drives a tmux server: pane and window lifecycle, literal text
// injection into panes, and readiness polling of the process running inside.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatmux/pkg/command"
	"chatmux/pkg/protocol"
)

// ErrPaneGone is returned when tmux reports that the target pane, window or
// session no longer exists.
var ErrPaneGone = errors.New("tmux target gone")

// DefaultPasteSettle is the delay between a bracketed paste and the Enter
// keystroke that submits it.
const DefaultPasteSettle = time.Second

// Client issues tmux commands through a command.Runner.
type Client struct {
	Runner command.Runner

	// PasteSettle is the delay between paste-buffer and Enter for multi-line
	// text. Zero means DefaultPasteSettle.
	PasteSettle time.Duration

	// Sleep overrides the context-aware sleep (tests). Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// BufferName overrides paste-buffer naming (tests). Nil uses a uuid.
	BufferName func() string
}

// New returns a Client backed by the given runner.
func New(runner command.Runner) *Client {
	return &Client{Runner: runner}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	out, err := c.Runner.Run(ctx, "tmux", args...)
	if err != nil {
		if isGone(err) {
			return "", fmt.Errorf("tmux %s: %w: %w", args[0], ErrPaneGone, err)
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// isGone classifies tmux stderr that means the addressed target is missing.
func isGone(err error) bool {
	stderr := command.Stderr(err)
	for _, marker := range []string{"can't find pane", "can't find window", "can't find session", "no server running", "session not found"} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) bufferName() string {
	if c.BufferName != nil {
		return c.BufferName()
	}
	return protocol.BufferPrefix + uuid.New().String()
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(ctx context.Context, session string) bool {
	_, err := c.run(ctx, "has-session", "-t", session)
	return err == nil
}

// NewSession creates a detached session whose first window is named window.
func (c *Client) NewSession(ctx context.Context, session, window string) error {
	if _, err := c.run(ctx, "new-session", "-d", "-s", session, "-n", window); err != nil {
		return err
	}
	return nil
}

// SplitPane splits window (session:window) into a new detached pane, types
// shellCmd into it and returns the new pane id (e.g. "%12"). If the launch
// command cannot be delivered the new pane is killed again.
func (c *Client) SplitPane(ctx context.Context, window, shellCmd string) (string, error) {
	paneID, err := c.run(ctx, "split-window", "-t", window, "-d", "-P", "-F", "#{pane_id}")
	if err != nil {
		return "", err
	}
	paneID = strings.TrimSpace(paneID)
	if paneID == "" {
		return "", fmt.Errorf("tmux split-window %s: empty pane id", window)
	}
	if err := c.sendLine(ctx, paneID, shellCmd); err != nil {
		_ = c.KillPane(ctx, paneID)
		return "", fmt.Errorf("launch in pane %s: %w", paneID, err)
	}
	return paneID, nil
}

// KillPane destroys a pane.
func (c *Client) KillPane(ctx context.Context, paneID string) error {
	_, err := c.run(ctx, "kill-pane", "-t", paneID)
	return err
}

// ListPanes returns the ids of every pane on the server.
func (c *Client) ListPanes(ctx context.Context) (map[string]bool, error) {
	out, err := c.run(ctx, "list-panes", "-a", "-F", "#{pane_id}")
	if err != nil {
		if errors.Is(err, ErrPaneGone) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	return lineSet(out), nil
}

// PaneExists reports whether paneID is a live pane. A missing tmux server
// counts as "no pane".
func (c *Client) PaneExists(ctx context.Context, paneID string) (bool, error) {
	panes, err := c.ListPanes(ctx)
	if err != nil {
		return false, err
	}
	return panes[paneID], nil
}

// ListWindows returns the window names of session. A missing session yields
// an empty set.
func (c *Client) ListWindows(ctx context.Context, session string) (map[string]bool, error) {
	out, err := c.run(ctx, "list-windows", "-t", session, "-F", "#{window_name}")
	if err != nil {
		if errors.Is(err, ErrPaneGone) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	return lineSet(out), nil
}

// NewWindow creates a detached window named name in session and types
// shellCmd into it.
func (c *Client) NewWindow(ctx context.Context, session, name, shellCmd string) error {
	if _, err := c.run(ctx, "new-window", "-t", session, "-n", name, "-d"); err != nil {
		return err
	}
	if shellCmd == "" {
		return nil
	}
	return c.sendLine(ctx, session+":"+name, shellCmd)
}

// KillWindow destroys session:name.
func (c *Client) KillWindow(ctx context.Context, session, name string) error {
	_, err := c.run(ctx, "kill-window", "-t", session+":"+name)
	return err
}

// Capture returns the visible contents of target with wrapped lines joined.
func (c *Client) Capture(ctx context.Context, target string) (string, error) {
	return c.run(ctx, "capture-pane", "-p", "-J", "-t", target)
}

func lineSet(out string) map[string]bool {
	set := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set[line] = true
		}
	}
	return set
}
