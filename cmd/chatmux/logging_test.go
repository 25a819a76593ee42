package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		flag  string
		env   string
		want  log.Level
		isErr bool
	}{
		{name: "default", want: log.InfoLevel},
		{name: "flag", flag: "debug", want: log.DebugLevel},
		{name: "env", env: "warn", want: log.WarnLevel},
		{name: "flag beats env", flag: "error", env: "debug", want: log.ErrorLevel},
		{name: "invalid", flag: "loud", isErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envLogLevel, tt.env)
			logger, err := newLogger(&bytes.Buffer{}, tt.flag)
			if tt.isErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			if logger.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLogger_LogfmtWhenNotATerminal(t *testing.T) {
	t.Setenv(envLogLevel, "")
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("pane spawned", "thread", "t1")

	got := buf.String()
	if !strings.Contains(got, `msg="pane spawned"`) || !strings.Contains(got, "thread=t1") {
		t.Errorf("not logfmt: %q", got)
	}
	if isTerminal(&buf) {
		t.Error("a buffer is not a terminal")
	}
}
