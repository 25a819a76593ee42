package main

import (
	"os"
	"path/filepath"
	"testing"
)

const validConfig = `schemaVersion: 2
servers:
  - name: personal
    chat:
      ownerUserId: "42"
    tmux:
      session: bridge
    projects:
      - name: api
        channelId: "111"
        projectPath: /src/api
        model: sonnet
        permission: bypassPermissions
      - name: web
        channelId: "444"
        projectPath: /src/web
        model: haiku
`

// writeConfig writes body as config.yaml in a fresh temp dir.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
