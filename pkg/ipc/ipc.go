// Package ipc exchanges small JSON files with hooks running next to the
// agent: which thread a project is currently answering in, and the
// operator's decision on a pending permission prompt.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"chatmux/pkg/protocol"
)

// Permission decisions written for the agent-side hook.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionBlock = "block"
)

// ErrInvalidChannel is returned for channel ids that are not numeric.
var ErrInvalidChannel = errors.New("channel id must be numeric")

var snowflake = regexp.MustCompile(`^[0-9]+$`)

// ValidChannelID reports whether id is a numeric chat snowflake.
func ValidChannelID(id string) bool { return snowflake.MatchString(id) }

// Dir is the directory shared with the hooks.
type Dir string

type tracking struct {
	ThreadID string `json:"threadId"`
}

type permission struct {
	Decision string `json:"decision"`
}

// TrackingPath is the thread marker file for a project's primary channel.
func (d Dir) TrackingPath(parentChannelID string) string {
	return filepath.Join(string(d), protocol.TrackingFilePrefix+parentChannelID+".json")
}

// PermissionPath is the decision file for a project's primary channel.
func (d Dir) PermissionPath(parentChannelID string) string {
	return filepath.Join(string(d), protocol.PermFilePrefix+parentChannelID+".json")
}

// WriteThreadTracking records that parentChannelID is currently answering in
// threadID.
func (d Dir) WriteThreadTracking(parentChannelID, threadID string) error {
	return writeJSON(d.TrackingPath(parentChannelID), tracking{ThreadID: threadID})
}

// ClearThreadTracking removes the marker. A missing marker is not an error.
func (d Dir) ClearThreadTracking(parentChannelID string) error {
	err := os.Remove(d.TrackingPath(parentChannelID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear thread tracking: %w", err)
	}
	return nil
}

// ReadThreadTracking returns the tracked thread id, or "" when none is set.
func (d Dir) ReadThreadTracking(parentChannelID string) (string, error) {
	var t tracking
	ok, err := readJSON(d.TrackingPath(parentChannelID), &t)
	if err != nil || !ok {
		return "", err
	}
	return t.ThreadID, nil
}

// WritePermissionDecision records decision for the hook waiting on
// channelID.
func (d Dir) WritePermissionDecision(channelID, decision string) error {
	if !ValidChannelID(channelID) {
		return fmt.Errorf("write permission decision %q: %w", channelID, ErrInvalidChannel)
	}
	switch decision {
	case DecisionAllow, DecisionDeny, DecisionBlock:
	default:
		return fmt.Errorf("write permission decision: unknown decision %q", decision)
	}
	return writeJSON(d.PermissionPath(channelID), permission{Decision: decision})
}

// ReadPermissionDecision returns the pending decision, or "" when none.
func (d Dir) ReadPermissionDecision(channelID string) (string, error) {
	var p permission
	ok, err := readJSON(d.PermissionPath(channelID), &p)
	if err != nil || !ok {
		return "", err
	}
	return p.Decision, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from a fixed prefix
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}
