package protocol

// Directory and path constants used throughout chatmux.
const (
	// StateDir is the user-level state directory (e.g., ~/.chatmux).
	StateDir = ".chatmux"

	// WorktreesDir is the path fragment that marks an agent-created isolated
	// worktree (<repo>/.claude/worktrees/<name>).
	WorktreesDir = ".claude/worktrees/"

	// ThreadEnvVar is exported into every thread pane so agent hooks know
	// which conversation thread they serve.
	ThreadEnvVar = "CHATMUX_THREAD_ID"

	// TrackingFilePrefix names the per-channel thread-tracking marker:
	// <trackingDir>/chatmux-thread-<parentChannelId>.json.
	TrackingFilePrefix = "chatmux-thread-"

	// PermFilePrefix names the per-channel permission decision file:
	// <trackingDir>/chatmux-perm-<channelId>.json.
	PermFilePrefix = "chatmux-perm-"

	// BufferPrefix prefixes tmux paste buffers created by chatmux.
	BufferPrefix = "chatmux-"
)

// Custom-id prefixes for interactive buttons.
const (
	ControlPrefix    = "ctrl:"
	PermissionPrefix = "perm:"
	OtherButtonID    = "__other__"
)
