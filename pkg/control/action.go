package control

import (
	"strings"

	"chatmux/pkg/protocol"
)

// Action verbs.
const (
	VerbStart   = "start"
	VerbStop    = "stop"
	VerbRefresh = "refresh"
)

// Prefix marks control button ids.
const Prefix = protocol.ControlPrefix

const (
	startPrefix = Prefix + VerbStart + ":"
	stopPrefix  = Prefix + VerbStop + ":"
	refreshID   = Prefix + VerbRefresh
)

// Action is a parsed control button id.
type Action struct {
	Verb    string
	Project string
}

// IsControl reports whether customID belongs to the control panel.
func IsControl(customID string) bool { return strings.HasPrefix(customID, Prefix) }

// ParseAction parses ctrl:start:<name>, ctrl:stop:<name> and ctrl:refresh.
func ParseAction(customID string) (Action, bool) {
	if customID == refreshID {
		return Action{Verb: VerbRefresh}, true
	}
	if name, ok := strings.CutPrefix(customID, startPrefix); ok && name != "" {
		return Action{Verb: VerbStart, Project: name}, true
	}
	if name, ok := strings.CutPrefix(customID, stopPrefix); ok && name != "" {
		return Action{Verb: VerbStop, Project: name}, true
	}
	return Action{}, false
}
