package main

import (
	"fmt"
	"os"
	"path/filepath"

	"chatmux/pkg/protocol"
)

// Paths holds all resolved chatmux state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home       string // ~/.chatmux or CHATMUX_HOME
	ConfigPath string // config.{yaml,json,toml} or CHATMUX_CONFIG
	PIDPath    string // chatmux.pid or CHATMUX_PID_PATH
	LogPath    string // chatmux.log or CHATMUX_LOG_PATH
}

// configNames are tried in order when CHATMUX_CONFIG is unset.
var configNames = []string{"config.yaml", "config.yml", "config.json", "config.toml"} //nolint:gochecknoglobals // lookup order

// ResolvePaths returns all chatmux paths, respecting env var overrides.
// Environment variables:
//   - CHATMUX_HOME: base directory for all chatmux state (default: ~/.chatmux)
//   - CHATMUX_CONFIG: config file (default: first existing config.* in CHATMUX_HOME)
//   - CHATMUX_PID_PATH: daemon PID file (default: $CHATMUX_HOME/chatmux.pid)
//   - CHATMUX_LOG_PATH: daemon log file (default: $CHATMUX_HOME/chatmux.log)
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		Home:       home,
		ConfigPath: resolveConfigPath(home),
		PIDPath:    resolvePathWithEnv("CHATMUX_PID_PATH", home, "chatmux.pid"),
		LogPath:    resolvePathWithEnv("CHATMUX_LOG_PATH", home, "chatmux.log"),
	}, nil
}

// resolveHome returns CHATMUX_HOME or ~/.chatmux.
func resolveHome() (string, error) {
	if v := os.Getenv("CHATMUX_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.StateDir), nil
}

// resolveConfigPath returns CHATMUX_CONFIG, else the first config file found
// in home, else home/config.yaml.
func resolveConfigPath(home string) string {
	if v := os.Getenv("CHATMUX_CONFIG"); v != "" {
		return v
	}
	for _, name := range configNames {
		p := filepath.Join(home, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(home, configNames[0])
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

// ensureHome creates the state directory.
func ensureHome(p *Paths) error {
	if err := os.MkdirAll(p.Home, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", p.Home, err)
	}
	return nil
}
