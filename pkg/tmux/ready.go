package tmux

import (
	"context"
	"regexp"
	"strings"
	"time"

	"chatmux/pkg/protocol"
)

// ReadyFunc inspects captured pane contents and reports whether the process
// inside is waiting for input. Implementations are heuristics tied to the
// controlled program's UI, not a protocol.
type ReadyFunc func(screen string) bool

var modelNameRe = regexp.MustCompile(`(?i)sonnet|opus|haiku`)

// ClaudeReady matches the Claude Code TUI once it has rendered: the input
// prompt, the model name in the status line, or its spinner/check glyphs.
// The shell echo of the launch line is ignored; it names the model too.
func ClaudeReady(screen string) bool {
	for line := range strings.Lines(screen) {
		if isLaunchEcho(line) {
			continue
		}
		for _, marker := range []string{"Human:", "❯", "✻", "✓"} {
			if strings.Contains(line, marker) {
				return true
			}
		}
		if modelNameRe.MatchString(line) {
			return true
		}
	}
	return false
}

// isLaunchEcho reports whether line is a shell line starting the agent.
func isLaunchEcho(line string) bool {
	return strings.Contains(line, protocol.ThreadEnvVar+"=") || strings.Contains(line, "--model ")
}

// WaitReady polls target every interval until ready matches its contents or
// timeout elapses. It returns false on timeout or cancellation; callers are
// expected to proceed anyway.
func (c *Client) WaitReady(ctx context.Context, target string, timeout, interval time.Duration, ready ReadyFunc) bool {
	if ready == nil {
		ready = ClaudeReady
	}
	if interval <= 0 {
		interval = time.Second
	}
	for waited := time.Duration(0); waited < timeout; waited += interval {
		if err := c.sleep(ctx, interval); err != nil {
			return false
		}
		screen, err := c.Capture(ctx, target)
		if err != nil {
			continue
		}
		if ready(screen) {
			return true
		}
	}
	return false
}
