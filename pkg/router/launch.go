package router

import (
	"fmt"
	"strings"

	"chatmux/pkg/config"
	"chatmux/pkg/protocol"
	"chatmux/pkg/tmux"
)

// PermissionFlag returns the agent flag for a permission mode.
func PermissionFlag(permission string) string {
	if permission == config.PermissionBypass {
		return " --dangerously-skip-permissions"
	}
	return ""
}

// BuildLaunchCommand is the shell line typed into a new thread pane. With
// isolate the agent is asked to create its own worktree.
func BuildLaunchCommand(agent, threadID, dir, model, permission string, isolate bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "export %s=%s && cd \"%s\" && %s --model \"%s\"",
		protocol.ThreadEnvVar, threadID, tmux.EscapeShellArg(dir), agent, tmux.EscapeShellArg(model))
	b.WriteString(PermissionFlag(permission))
	if isolate {
		b.WriteString(" -w")
	}
	return b.String()
}

// BuildWindowCommand is the shell line typed into a project window.
func BuildWindowCommand(agent string, p *config.Project) string {
	return fmt.Sprintf("cd \"%s\" && %s --model \"%s\"%s",
		tmux.EscapeShellArg(p.ProjectPath), agent, tmux.EscapeShellArg(p.Model), PermissionFlag(p.Permission))
}
