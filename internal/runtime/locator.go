// Package runtime resolves the executables of the Node.js runtime, its
// package manager and the agent CLI, either from the system search path or
// from the portable runtime under the config directory.
package runtime

import (
	"os"

	"github.com/remoteclauding/rcboot/internal/paths"
	"github.com/remoteclauding/rcboot/internal/platform"
)

// DefaultCLIName is the executable installed by the agent package.
const DefaultCLIName = "remote-clauding"

// Locator maps the portable flag to concrete commands.
type Locator struct {
	Platform platform.Platform
	Layout   paths.Layout
	CLIName  string
	// Exists reports whether a file is present; os.Stat by default.
	Exists func(path string) bool
}

// NewLocator returns a Locator that checks the real filesystem.
func NewLocator(p platform.Platform, l paths.Layout, cliName string) *Locator {
	if cliName == "" {
		cliName = DefaultCLIName
	}
	return &Locator{Platform: p, Layout: l, CLIName: cliName, Exists: fileExists}
}

// NodeBinary returns the node executable.
func (l *Locator) NodeBinary(portable bool) string {
	if !portable {
		return "node"
	}
	return l.Platform.NodeBinary(l.Layout.NodeDir())
}

// Npm returns the package manager invocation.
func (l *Locator) Npm(portable bool) platform.Command {
	if !portable {
		return l.Platform.SystemCommand("npm")
	}
	return l.Platform.PortableNpm(l.Layout.NodeDir())
}

// CLI returns the agent CLI invocation. In the portable runtime the direct
// wrapper is preferred; global-install layouts differ between platforms and
// npm versions, so when it is missing the CLI is run through npx.
func (l *Locator) CLI(portable bool) platform.Command {
	if !portable {
		return l.Platform.SystemCommand(l.CLIName)
	}
	direct, fallback := l.Platform.PortableCLI(l.Layout.NodeDir(), l.CLIName)
	if l.exists(direct.Path) {
		return direct
	}
	return fallback
}

// HasPortableCLI reports whether the direct CLI wrapper exists in the
// portable runtime. The npx fallback does not count.
func (l *Locator) HasPortableCLI() bool {
	direct, _ := l.Platform.PortableCLI(l.Layout.NodeDir(), l.CLIName)
	return l.exists(direct.Path)
}

// HasPortableNode reports whether the portable node binary exists.
func (l *Locator) HasPortableNode() bool {
	return l.exists(l.NodeBinary(true))
}

func (l *Locator) exists(path string) bool {
	if l.Exists == nil {
		return fileExists(path)
	}
	return l.Exists(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
