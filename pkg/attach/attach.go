// Package attach downloads chat attachments into a local upload directory
// so they can be referenced by path in the text sent to an agent.
package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Download limits.
const (
	MaxSize         = 50 << 20
	DownloadTimeout = 30 * time.Second
	MaxAge          = 24 * time.Hour
)

// FailureNotice is sent to the origin when a download fails and the
// message text is routed alone.
const FailureNotice = "Failed to download attachment. Sending message text only."

// ErrTooLarge is returned when an attachment exceeds MaxSize.
var ErrTooLarge = errors.New("attachment too large")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// File is an attachment announced by the chat platform.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// Downloader fetches attachments into Dir.
type Downloader struct {
	Dir     string
	Client  *http.Client
	MaxSize int64
	Timeout time.Duration

	// NewID overrides the unique file prefix (tests).
	NewID func() string
}

// New returns a Downloader writing into dir with the default limits.
func New(dir string) *Downloader {
	return &Downloader{Dir: dir}
}

func (d *Downloader) maxSize() int64 {
	if d.MaxSize > 0 {
		return d.MaxSize
	}
	return MaxSize
}

func (d *Downloader) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DownloadTimeout
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Downloader) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.New().String()
}

// SanitizeName replaces every character outside [a-zA-Z0-9._-] with "_".
func SanitizeName(name string) string {
	name = unsafeChars.ReplaceAllString(filepath.Base(name), "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// DownloadAll fetches every file and returns the local paths. The first
// failure aborts the batch and removes files already written.
func (d *Downloader) DownloadAll(ctx context.Context, files []File) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p, err := d.Download(ctx, f)
		if err != nil {
			for _, done := range paths {
				_ = os.Remove(done)
			}
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Download fetches one file. The size cap is checked against the announced
// size, the Content-Length header and the streamed body.
func (d *Downloader) Download(ctx context.Context, f File) (string, error) {
	limit := d.maxSize()
	if f.Size > limit {
		return "", fmt.Errorf("download %s: %w (%d bytes)", f.Name, ErrTooLarge, f.Size)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", f.Name, err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", f.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %s", f.Name, resp.Status)
	}
	if resp.ContentLength > limit {
		return "", fmt.Errorf("download %s: %w (%d bytes)", f.Name, ErrTooLarge, resp.ContentLength)
	}

	if err := os.MkdirAll(d.Dir, 0o700); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(d.Dir, d.newID()+"-"+SanitizeName(f.Name))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // name is sanitized
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	n, err := io.Copy(out, io.LimitReader(resp.Body, limit+1))
	closeErr := out.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("download %s: %w", f.Name, err)
	case n > limit:
		err = fmt.Errorf("download %s: %w", f.Name, ErrTooLarge)
	case closeErr != nil:
		err = fmt.Errorf("write %s: %w", path, closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// BuildMessage appends one "[attachment: <path>]" line per file to text.
func BuildMessage(text string, paths []string) string {
	if len(paths) == 0 {
		return text
	}
	lines := make([]string, 0, len(paths)+1)
	if text != "" {
		lines = append(lines, text)
	}
	for _, p := range paths {
		lines = append(lines, "[attachment: "+p+"]")
	}
	return strings.Join(lines, "\n")
}

// CleanupOld removes regular files in dir last modified more than maxAge
// before now and returns how many were removed. A missing dir is not an
// error.
func CleanupOld(dir string, maxAge time.Duration, now time.Time, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.Default()
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("remove old upload", "path", path, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
