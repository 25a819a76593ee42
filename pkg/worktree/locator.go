package worktree

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Locator defaults.
const (
	DefaultMaxAttempts = 10
	DefaultInterval    = 3 * time.Second
)

// Lister lists isolated worktrees of a repository.
type Lister interface {
	List(ctx context.Context, repo string) ([]string, error)
}

// KnownFunc returns the worktree paths already owned by some session. It is
// called on every attempt so concurrent locators see each other's claims.
type KnownFunc func() map[string]struct{}

// Locator polls for a worktree that an agent process is creating in the
// background and picks the first one nobody owns yet.
type Locator struct {
	Lister      Lister
	MaxAttempts int
	Interval    time.Duration
	Logger      *log.Logger

	// Sleep overrides the context-aware sleep (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Locate waits Interval before each of up to MaxAttempts listings of repo
// and returns the first isolated worktree not in known(). Exhaustion and
// cancellation report ("", false); listing errors are retried.
func (l *Locator) Locate(ctx context.Context, repo string, known KnownFunc) (string, bool) {
	attempts := l.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	for i := 0; i < attempts; i++ {
		if err := l.sleep(ctx, interval); err != nil {
			return "", false
		}
		paths, err := l.Lister.List(ctx, repo)
		if err != nil {
			l.logger().Debug("worktree list failed", "repo", repo, "attempt", i+1, "err", err)
			continue
		}
		owned := known()
		for _, p := range paths {
			if _, taken := owned[p]; !taken {
				return p, true
			}
		}
	}
	return "", false
}

func (l *Locator) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
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

func (l *Locator) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}
