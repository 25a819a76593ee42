package main

import (
	"os"
	"path/filepath"
	"testing"

	"chatmux/pkg/protocol"
)

func clearPathEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CHATMUX_HOME", "CHATMUX_CONFIG", "CHATMUX_PID_PATH", "CHATMUX_LOG_PATH"} {
		t.Setenv(k, "")
	}
}

func TestResolvePaths_Defaults(t *testing.T) {
	clearPathEnv(t)

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("get home dir: %v", err)
	}
	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}

	base := filepath.Join(home, protocol.StateDir)
	if paths.Home != base {
		t.Errorf("Home = %q, want %q", paths.Home, base)
	}
	if filepath.Dir(paths.ConfigPath) != base {
		t.Errorf("ConfigPath = %q, want a file in %q", paths.ConfigPath, base)
	}
	if paths.PIDPath != filepath.Join(base, "chatmux.pid") {
		t.Errorf("PIDPath = %q", paths.PIDPath)
	}
	if paths.LogPath != filepath.Join(base, "chatmux.log") {
		t.Errorf("LogPath = %q", paths.LogPath)
	}
}

func TestResolvePaths_EnvOverrides(t *testing.T) {
	clearPathEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("CHATMUX_HOME", filepath.Join(tmpDir, "home"))
	t.Setenv("CHATMUX_CONFIG", filepath.Join(tmpDir, "elsewhere.toml"))
	t.Setenv("CHATMUX_PID_PATH", filepath.Join(tmpDir, "custom.pid"))
	t.Setenv("CHATMUX_LOG_PATH", filepath.Join(tmpDir, "custom.log"))

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}
	want := Paths{
		Home:       filepath.Join(tmpDir, "home"),
		ConfigPath: filepath.Join(tmpDir, "elsewhere.toml"),
		PIDPath:    filepath.Join(tmpDir, "custom.pid"),
		LogPath:    filepath.Join(tmpDir, "custom.log"),
	}
	if *paths != want {
		t.Errorf("paths = %+v, want %+v", *paths, want)
	}
}

func TestResolvePaths_HomeIsBaseForDefaults(t *testing.T) {
	clearPathEnv(t)
	home := t.TempDir()
	t.Setenv("CHATMUX_HOME", home)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}
	if paths.ConfigPath != filepath.Join(home, "config.yaml") {
		t.Errorf("ConfigPath = %q, want config.yaml when none exists", paths.ConfigPath)
	}
	if paths.PIDPath != filepath.Join(home, "chatmux.pid") {
		t.Errorf("PIDPath = %q", paths.PIDPath)
	}
}

func TestResolvePaths_FindsExistingConfig(t *testing.T) {
	clearPathEnv(t)
	home := t.TempDir()
	t.Setenv("CHATMUX_HOME", home)

	for _, name := range []string{"config.toml", "config.json"} {
		if err := os.WriteFile(filepath.Join(home, name), []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}
	if want := filepath.Join(home, "config.json"); paths.ConfigPath != want {
		t.Errorf("ConfigPath = %q, want %q (json is tried before toml)", paths.ConfigPath, want)
	}
}

func TestRootOptions_ConfigFlagWins(t *testing.T) {
	clearPathEnv(t)
	t.Setenv("CHATMUX_HOME", t.TempDir())
	t.Setenv("CHATMUX_CONFIG", "/from/env.yaml")

	opts := &rootOptions{configPath: "/from/flag.yaml"}
	paths, err := opts.paths()
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if paths.ConfigPath != "/from/flag.yaml" {
		t.Errorf("ConfigPath = %q, want the --config value", paths.ConfigPath)
	}
}

func TestEnsureHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "a", "b")
	if err := ensureHome(&Paths{Home: home}); err != nil {
		t.Fatalf("ensureHome: %v", err)
	}
	if fi, err := os.Stat(home); err != nil || !fi.IsDir() {
		t.Fatalf("home not created: %v", err)
	}
	if err := ensureHome(&Paths{Home: home}); err != nil {
		t.Fatalf("ensureHome on existing dir: %v", err)
	}
}
