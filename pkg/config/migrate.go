package config

import (
	"fmt"
	"os"
)

// legacyConfig is the schemaVersion 1 document: a single chat server.
type legacyConfig struct {
	SchemaVersion int `yaml:"schemaVersion" toml:"schemaVersion"`
	Tmux          Tmux `yaml:"tmux" toml:"tmux"`
	Discord       struct {
		BotToken    string `yaml:"botToken" toml:"botToken"`
		GuildID     string `yaml:"guildId" toml:"guildId"`
		OwnerUserID string `yaml:"ownerUserId" toml:"ownerUserId"`
	} `yaml:"discord" toml:"discord"`
	Projects []Project `yaml:"projects" toml:"projects"`
}

// LegacyServerName is the server name given to a migrated v1 config.
const LegacyServerName = "personal"

// Migrate converts the schemaVersion 1 document at path into a v2 Config.
// A document that is already v2 is returned unchanged.
func Migrate(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var probe struct {
		SchemaVersion int `yaml:"schemaVersion" toml:"schemaVersion"`
	}
	if err := decode(path, data, &probe); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	switch probe.SchemaVersion {
	case SchemaVersion:
		return readRaw(path)
	case 1:
	default:
		return nil, fmt.Errorf("migrate %s: unsupported schemaVersion %d", path, probe.SchemaVersion)
	}

	var legacy legacyConfig
	if err := decode(path, data, &legacy); err != nil {
		return nil, fmt.Errorf("parse v1 config %s: %w", path, err)
	}
	return &Config{
		SchemaVersion: SchemaVersion,
		Servers: []Server{{
			Name: LegacyServerName,
			Chat: Chat{
				Token:       legacy.Discord.BotToken,
				GuildID:     legacy.Discord.GuildID,
				OwnerUserID: legacy.Discord.OwnerUserID,
			},
			Tmux:     legacy.Tmux,
			Projects: legacy.Projects,
		}},
	}, nil
}
