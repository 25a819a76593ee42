package config

// Resolved is the effective configuration of one thread session.
type Resolved struct {
	Model       string
	ProjectPath string
	Permission  string
	Isolation   string
}

// Worktree reports whether the session should run in an isolated worktree.
func (r Resolved) Worktree() bool { return r.Isolation == IsolationWorktree }

// ResolveThread computes the effective settings for threadID. Each field is
// taken from the first tier that sets it: the thread's own entry, then the
// project's threadDefaults, then the project itself.
func (p *Project) ResolveThread(threadID string) Resolved {
	var thread Thread
	for _, t := range p.Threads {
		if t.ChannelID == threadID {
			thread = t
			break
		}
	}
	var defaults ThreadDefaults
	if p.ThreadDefaults != nil {
		defaults = *p.ThreadDefaults
	}

	return Resolved{
		Model:       firstSet(thread.Model, defaults.Model, p.Model),
		ProjectPath: ExpandHome(firstSet(thread.ProjectPath, defaults.ProjectPath, p.ProjectPath)),
		Permission:  firstSet(thread.Permission, defaults.Permission, p.Permission),
		Isolation:   firstSet(thread.Isolation, defaults.Isolation, p.Isolation),
	}
}

// StartupThreads returns the thread entries marked startup.
func (p *Project) StartupThreads() []Thread {
	var out []Thread
	for _, t := range p.Threads {
		if t.Startup {
			out = append(out, t)
		}
	}
	return out
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
