package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrLegacySchema is returned by Load for a schemaVersion 1 document.
var ErrLegacySchema = errors.New("legacy schemaVersion 1 config; run `chatmux config migrate`")

// ErrUnknownServer is returned when a server name is not configured.
var ErrUnknownServer = errors.New("unknown server")

// Environment overrides applied by Load.
const (
	EnvListen = "CHATMUX_LISTEN"
	EnvToken  = "CHATMUX_TOKEN"
)

// Load reads the config at path (YAML, JSON or TOML by extension), applies
// environment overrides and defaults, and expands "~" in paths. State files
// default to the directory holding the config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := decode(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.SchemaVersion == 1 {
		return nil, ErrLegacySchema
	}

	if v := os.Getenv(EnvListen); v != "" {
		cfg.Bridge.Listen = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		cfg.Bridge.Token = v
	}
	cfg.Bridge = cfg.Bridge.withDefaults(filepath.Dir(path))
	for i := range cfg.Servers {
		for j := range cfg.Servers[i].Projects {
			p := &cfg.Servers[i].Projects[j]
			p.ProjectPath = ExpandHome(p.ProjectPath)
		}
	}
	return &cfg, nil
}

// readRaw decodes path without defaults, for read-modify-write edits.
func readRaw(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := decode(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return writeFileAtomic(path, data)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// decode parses TOML by extension and everything else as YAML, which also
// accepts JSON documents.
func decode(path string, data []byte, v any) error {
	if isTOML(path) {
		return toml.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

func encode(path string, v any) ([]byte, error) {
	switch {
	case isTOML(path):
		return toml.Marshal(v)
	case isJSON(path):
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
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
