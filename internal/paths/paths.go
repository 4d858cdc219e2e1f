// Package paths resolves the configuration directory and the fixed file
// layout every other component reads and writes.
package paths

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/platform"
)

// DefaultApp is the directory name used under the OS config base.
const DefaultApp = "remote-clauding"

// File names inside the config directory.
const (
	MarkerFile     = "installed.marker"
	PIDFile        = "agent.pid"
	NodeConfigFile = "node-config.json"
	AppConfigFile  = "config.json"
	SettingsFile   = "rcboot.toml"
	NodeDirName    = "node"
)

// ConfigDir computes the configuration directory for app. It falls back to a
// relative path when the OS base cannot be determined.
func ConfigDir(p platform.Platform, env platform.Env, app string) string {
	if app == "" {
		app = DefaultApp
	}
	base := p.ConfigBase(env)
	if base == "" {
		return app
	}
	return p.Join(base, app)
}

// Layout is the fixed set of paths under one configuration directory.
type Layout struct {
	Dir string
	p   platform.Platform
}

// NewLayout roots a layout at dir using p's path rules.
func NewLayout(p platform.Platform, dir string) Layout {
	return Layout{Dir: dir, p: p}
}

// Resolve computes the layout for the given platform and environment.
// override, when non-empty, replaces the computed directory.
func Resolve(p platform.Platform, env platform.Env, app, override string) Layout {
	if override != "" {
		return NewLayout(p, override)
	}
	return NewLayout(p, ConfigDir(p, env, app))
}

func (l Layout) join(name string) string { return l.p.Join(l.Dir, name) }

func (l Layout) Marker() string     { return l.join(MarkerFile) }
func (l Layout) PIDFile() string    { return l.join(PIDFile) }
func (l Layout) NodeConfig() string { return l.join(NodeConfigFile) }
func (l Layout) AppConfig() string  { return l.join(AppConfigFile) }
func (l Layout) Settings() string   { return l.join(SettingsFile) }
func (l Layout) NodeDir() string    { return l.join(NodeDirName) }

// ArchivePath is where a downloaded archive named name is staged.
func (l Layout) ArchivePath(name string) string { return l.join(name) }

// Platform returns the path rules the layout was built with.
func (l Layout) Platform() platform.Platform { return l.p }

// EnsureDir creates the configuration directory if missing. Failures are
// only logged; the next write into the directory reports them.
func (l Layout) EnsureDir() {
	if _, err := os.Stat(l.Dir); err == nil {
		return
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		log.Debug().Str("dir", l.Dir).Err(err).Msg("config dir not created")
	}
}
