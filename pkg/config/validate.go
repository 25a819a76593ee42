package config

import (
	"fmt"
	"net"
	"sort"
)

var validIsolation = map[string]bool{"": true, IsolationNone: true, IsolationWorktree: true}

var validPermission = map[string]bool{
	"": true, PermissionDefault: true, PermissionAcceptEdits: true, PermissionPlan: true, PermissionBypass: true,
}

// Validate reports every structural problem in cfg.
func (c *Config) Validate() []error {
	var errs []error
	if c.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Errorf("schemaVersion: got %d, want %d", c.SchemaVersion, SchemaVersion))
	}
	if len(c.Servers) == 0 {
		errs = append(errs, fmt.Errorf("servers: at least one server is required"))
	}
	if c.Bridge.Token == "" && !isLoopback(c.Bridge.Listen) {
		errs = append(errs, fmt.Errorf("bridge.token: required when listen %q is not a loopback address", c.Bridge.Listen))
	}

	names := make(map[string]bool)
	for i, s := range c.Servers {
		where := fmt.Sprintf("servers[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", where))
		} else if names[s.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate server %q", where, s.Name))
		}
		names[s.Name] = true
		if s.Chat.OwnerUserID == "" {
			errs = append(errs, fmt.Errorf("%s.chat.ownerUserId: required", where))
		}
		if s.Tmux.Session == "" {
			errs = append(errs, fmt.Errorf("%s.tmux.session: required", where))
		}
		if len(s.Projects) == 0 {
			errs = append(errs, fmt.Errorf("%s.projects: at least one project is required", where))
		}
		projectNames := make(map[string]bool)
		for j, p := range s.Projects {
			errs = append(errs, p.validate(fmt.Sprintf("%s.projects[%d]", where, j), projectNames)...)
		}
	}
	return errs
}

func (p *Project) validate(where string, seen map[string]bool) []error {
	var errs []error
	required := map[string]string{"name": p.Name, "channelId": p.ChannelID, "projectPath": p.ProjectPath, "model": p.Model}
	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if required[k] == "" {
			errs = append(errs, fmt.Errorf("%s.%s: required", where, k))
		}
	}
	if p.Name != "" && seen[p.Name] {
		errs = append(errs, fmt.Errorf("%s.name: duplicate project %q (tmux window names must be unique)", where, p.Name))
	}
	seen[p.Name] = true

	errs = append(errs, checkModes(where, p.Permission, p.Isolation)...)
	if p.ThreadDefaults != nil {
		errs = append(errs, checkModes(where+".threadDefaults", p.ThreadDefaults.Permission, p.ThreadDefaults.Isolation)...)
	}
	for k, t := range p.Threads {
		tw := fmt.Sprintf("%s.threads[%d]", where, k)
		if t.ChannelID == "" {
			errs = append(errs, fmt.Errorf("%s.channelId: required", tw))
		}
		errs = append(errs, checkModes(tw, t.Permission, t.Isolation)...)
	}
	return errs
}

// isLoopback reports whether listen binds only the loopback interface. An
// empty address means DefaultListen.
func isLoopback(listen string) bool {
	if listen == "" {
		listen = DefaultListen
	}
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func checkModes(where, permission, isolation string) []error {
	var errs []error
	if !validPermission[permission] {
		errs = append(errs, fmt.Errorf("%s.permission: unknown mode %q", where, permission))
	}
	if !validIsolation[isolation] {
		errs = append(errs, fmt.Errorf("%s.isolation: unknown mode %q", where, isolation))
	}
	return errs
}

// DuplicateChannels describes every channel id used as the primary channel
// of more than one project across all servers.
func (c *Config) DuplicateChannels() []string {
	seen := make(map[string]string)
	var warnings []string
	for _, s := range c.Servers {
		for _, p := range s.Projects {
			owner := s.Name + "/" + p.Name
			if prev, ok := seen[p.ChannelID]; ok {
				warnings = append(warnings, fmt.Sprintf("channelId %q shared between %q and %q", p.ChannelID, prev, owner))
				continue
			}
			seen[p.ChannelID] = owner
		}
	}
	return warnings
}
