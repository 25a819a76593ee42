// Package config loads and validates the chatmux configuration: the bridge
// settings plus, per chat server, the tmux session and the projects whose
// channels are routed into it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SchemaVersion is the configuration schema this package reads and writes.
const SchemaVersion = 2

// Isolation and permission modes.
const (
	IsolationNone     = "none"
	IsolationWorktree = "worktree"

	PermissionDefault     = "default"
	PermissionAcceptEdits = "acceptEdits"
	PermissionPlan        = "plan"
	PermissionBypass      = "bypassPermissions"
)

// Bridge defaults.
const (
	DefaultListen          = "127.0.0.1:8787"
	DefaultTrackingDir     = "/tmp"
	DefaultUploadDir       = "/tmp/chatmux-uploads"
	DefaultAgentCommand    = "claude"
	DefaultPasteSettle     = time.Second
	DefaultReadyTimeout    = 15 * time.Second
	DefaultReadyInterval   = time.Second
	DefaultLocatorAttempts = 10
	DefaultLocatorInterval = 3 * time.Second
	DefaultSweepInterval   = 30 * time.Second
)

// Config is the top-level configuration document.
type Config struct {
	SchemaVersion int      `yaml:"schemaVersion" toml:"schemaVersion" json:"schemaVersion"`
	Bridge        Bridge   `yaml:"bridge,omitempty" toml:"bridge,omitempty" json:"bridge,omitempty"`
	Servers       []Server `yaml:"servers" toml:"servers" json:"servers"`
}

// Bridge holds process-wide settings.
type Bridge struct {
	Listen          string   `yaml:"listen,omitempty" toml:"listen,omitempty" json:"listen,omitempty"`
	Token           string   `yaml:"token,omitempty" toml:"token,omitempty" json:"token,omitempty"`
	StateFile       string   `yaml:"stateFile,omitempty" toml:"stateFile,omitempty" json:"stateFile,omitempty"`
	EventsDB        string   `yaml:"eventsDB,omitempty" toml:"eventsDB,omitempty" json:"eventsDB,omitempty"`
	TrackingDir     string   `yaml:"trackingDir,omitempty" toml:"trackingDir,omitempty" json:"trackingDir,omitempty"`
	UploadDir       string   `yaml:"uploadDir,omitempty" toml:"uploadDir,omitempty" json:"uploadDir,omitempty"`
	AgentCommand    string   `yaml:"agentCommand,omitempty" toml:"agentCommand,omitempty" json:"agentCommand,omitempty"`
	PasteSettle     Duration `yaml:"pasteSettle,omitempty" toml:"pasteSettle,omitempty" json:"pasteSettle,omitempty"`
	ReadyTimeout    Duration `yaml:"readyTimeout,omitempty" toml:"readyTimeout,omitempty" json:"readyTimeout,omitempty"`
	ReadyInterval   Duration `yaml:"readyInterval,omitempty" toml:"readyInterval,omitempty" json:"readyInterval,omitempty"`
	LocatorAttempts int      `yaml:"locatorAttempts,omitempty" toml:"locatorAttempts,omitempty" json:"locatorAttempts,omitempty"`
	LocatorInterval Duration `yaml:"locatorInterval,omitempty" toml:"locatorInterval,omitempty" json:"locatorInterval,omitempty"`
	SweepInterval   Duration `yaml:"sweepInterval,omitempty" toml:"sweepInterval,omitempty" json:"sweepInterval,omitempty"`
}

// Server is one chat server (tenant) and the tmux session serving it.
type Server struct {
	Name             string    `yaml:"name" toml:"name" json:"name"`
	Chat             Chat      `yaml:"chat" toml:"chat" json:"chat"`
	Tmux             Tmux      `yaml:"tmux" toml:"tmux" json:"tmux"`
	GeneralChannelID string    `yaml:"generalChannelId,omitempty" toml:"generalChannelId,omitempty" json:"generalChannelId,omitempty"`
	PermissionTools  []string  `yaml:"permissionTools,omitempty" toml:"permissionTools,omitempty" json:"permissionTools,omitempty"`
	Projects         []Project `yaml:"projects" toml:"projects" json:"projects"`
}

// Chat identifies the operator on the chat platform.
type Chat struct {
	Token       string `yaml:"token,omitempty" toml:"token,omitempty" json:"token,omitempty"`
	GuildID     string `yaml:"guildId,omitempty" toml:"guildId,omitempty" json:"guildId,omitempty"`
	OwnerUserID string `yaml:"ownerUserId" toml:"ownerUserId" json:"ownerUserId"`
}

// Tmux names the session that holds one window per project.
type Tmux struct {
	Session string `yaml:"session" toml:"session" json:"session"`
}

// Project binds a primary channel to a working copy and agent settings.
type Project struct {
	Name           string          `yaml:"name" toml:"name" json:"name"`
	ChannelID      string          `yaml:"channelId" toml:"channelId" json:"channelId"`
	ProjectPath    string          `yaml:"projectPath" toml:"projectPath" json:"projectPath"`
	Model          string          `yaml:"model" toml:"model" json:"model"`
	Startup        bool            `yaml:"startup,omitempty" toml:"startup,omitempty" json:"startup,omitempty"`
	Permission     string          `yaml:"permission,omitempty" toml:"permission,omitempty" json:"permission,omitempty"`
	Isolation      string          `yaml:"isolation,omitempty" toml:"isolation,omitempty" json:"isolation,omitempty"`
	ThreadDefaults *ThreadDefaults `yaml:"threadDefaults,omitempty" toml:"threadDefaults,omitempty" json:"threadDefaults,omitempty"`
	Threads        []Thread        `yaml:"threads,omitempty" toml:"threads,omitempty" json:"threads,omitempty"`
}

// ThreadDefaults apply to every thread of a project unless the thread
// overrides them.
type ThreadDefaults struct {
	Model       string `yaml:"model,omitempty" toml:"model,omitempty" json:"model,omitempty"`
	ProjectPath string `yaml:"projectPath,omitempty" toml:"projectPath,omitempty" json:"projectPath,omitempty"`
	Permission  string `yaml:"permission,omitempty" toml:"permission,omitempty" json:"permission,omitempty"`
	Isolation   string `yaml:"isolation,omitempty" toml:"isolation,omitempty" json:"isolation,omitempty"`
}

// Thread is a per-thread override, keyed by the thread's channel id.
type Thread struct {
	Name        string `yaml:"name" toml:"name" json:"name"`
	ChannelID   string `yaml:"channelId" toml:"channelId" json:"channelId"`
	Model       string `yaml:"model,omitempty" toml:"model,omitempty" json:"model,omitempty"`
	ProjectPath string `yaml:"projectPath,omitempty" toml:"projectPath,omitempty" json:"projectPath,omitempty"`
	Permission  string `yaml:"permission,omitempty" toml:"permission,omitempty" json:"permission,omitempty"`
	Isolation   string `yaml:"isolation,omitempty" toml:"isolation,omitempty" json:"isolation,omitempty"`
	Startup     bool   `yaml:"startup,omitempty" toml:"startup,omitempty" json:"startup,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// withDefaults fills unset bridge settings. baseDir holds the state files
// when their paths are not configured.
func (b Bridge) withDefaults(baseDir string) Bridge {
	if b.Listen == "" {
		b.Listen = DefaultListen
	}
	if b.StateFile == "" {
		b.StateFile = filepath.Join(baseDir, "sessions.json")
	}
	if b.EventsDB == "" {
		b.EventsDB = filepath.Join(baseDir, "events.db")
	}
	if b.TrackingDir == "" {
		b.TrackingDir = DefaultTrackingDir
	}
	if b.UploadDir == "" {
		b.UploadDir = DefaultUploadDir
	}
	if b.AgentCommand == "" {
		b.AgentCommand = DefaultAgentCommand
	}
	if b.PasteSettle <= 0 {
		b.PasteSettle = Duration(DefaultPasteSettle)
	}
	if b.ReadyTimeout <= 0 {
		b.ReadyTimeout = Duration(DefaultReadyTimeout)
	}
	if b.ReadyInterval <= 0 {
		b.ReadyInterval = Duration(DefaultReadyInterval)
	}
	if b.LocatorAttempts <= 0 {
		b.LocatorAttempts = DefaultLocatorAttempts
	}
	if b.LocatorInterval <= 0 {
		b.LocatorInterval = Duration(DefaultLocatorInterval)
	}
	if b.SweepInterval <= 0 {
		b.SweepInterval = Duration(DefaultSweepInterval)
	}
	b.StateFile = ExpandHome(b.StateFile)
	b.EventsDB = ExpandHome(b.EventsDB)
	b.TrackingDir = ExpandHome(b.TrackingDir)
	b.UploadDir = ExpandHome(b.UploadDir)
	return b
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Server returns the server named name.
func (c *Config) Server(name string) (*Server, bool) {
	for i := range c.Servers {
		if c.Servers[i].Name == name {
			return &c.Servers[i], true
		}
	}
	return nil, false
}

// ServerNames lists the configured scopes.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		names = append(names, s.Name)
	}
	return names
}

// ProjectByChannel returns the project whose primary channel is channelID.
func (s *Server) ProjectByChannel(channelID string) (*Project, bool) {
	for i := range s.Projects {
		if s.Projects[i].ChannelID == channelID {
			return &s.Projects[i], true
		}
	}
	return nil, false
}

// ProjectByName returns the project named name.
func (s *Server) ProjectByName(name string) (*Project, bool) {
	for i := range s.Projects {
		if s.Projects[i].Name == name {
			return &s.Projects[i], true
		}
	}
	return nil, false
}

// WindowTarget is the tmux target of a project's primary destination.
func (s *Server) WindowTarget(p *Project) string {
	return s.Tmux.Session + ":" + p.Name
}
