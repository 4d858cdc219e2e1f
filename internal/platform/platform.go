// Package platform captures the per-OS differences of the bootstrap layer:
// where state lives, which Node.js distribution to fetch and how executables
// are laid out inside a portable runtime. One implementation is selected at
// startup from the host GOOS; tests select others explicitly.
package platform

import (
	"os"
	goruntime "runtime"
)

// Command is an executable plus the argument prefix it must be invoked with.
type Command struct {
	Path string
	Args []string
	// Fallback is set when the command is an indirect invocation used because
	// the preferred executable was not found on disk.
	Fallback bool
}

// With returns a copy of c with extra arguments appended.
func (c Command) With(args ...string) Command {
	out := Command{Path: c.Path, Fallback: c.Fallback}
	out.Args = append(append([]string{}, c.Args...), args...)
	return out
}

// Argv returns the full argument vector without the executable.
func (c Command) Argv() []string { return append([]string{}, c.Args...) }

// Env exposes the parts of the process environment the path rules depend on.
type Env struct {
	Getenv  func(string) string
	HomeDir func() (string, error)
}

// HostEnv reads the real process environment.
func HostEnv() Env {
	return Env{Getenv: os.Getenv, HomeDir: os.UserHomeDir}
}

// MapEnv builds an Env from fixed values. An empty home means "unknown".
func MapEnv(vars map[string]string, home string) Env {
	return Env{
		Getenv: func(k string) string { return vars[k] },
		HomeDir: func() (string, error) {
			if home == "" {
				return "", os.ErrNotExist
			}
			return home, nil
		},
	}
}

func (e Env) get(k string) string {
	if e.Getenv == nil {
		return ""
	}
	return e.Getenv(k)
}

func (e Env) home() (string, bool) {
	if e.HomeDir == nil {
		return "", false
	}
	h, err := e.HomeDir()
	if err != nil || h == "" {
		return "", false
	}
	return h, true
}

// Platform is the OS strategy.
type Platform interface {
	GOOS() string
	// ConfigBase returns the directory under which the application's own
	// directory is created, or "" if it cannot be determined.
	ConfigBase(env Env) string
	// Join joins path elements with the platform separator.
	Join(elem ...string) string
	DistOS() string
	ArchiveExt() string
	NodeBinary(nodeDir string) string
	SystemCommand(name string) Command
	PortableNpm(nodeDir string) Command
	// PortableCLI returns the direct wrapper for name inside nodeDir and the
	// package-manager-exec invocation used when the wrapper is absent.
	PortableCLI(nodeDir, name string) (direct, fallback Command)
}

// For returns the implementation for goos. Unknown values get the generic
// unix layout with a relative config directory.
func For(goos string) Platform {
	switch goos {
	case "windows":
		return windowsPlatform{}
	case "darwin":
		return darwinPlatform{}
	case "linux":
		return linuxPlatform{}
	default:
		return genericPlatform{goos: goos}
	}
}

// Host returns the implementation for the running OS.
func Host() Platform { return For(goruntime.GOOS) }

// DistArch maps a GOARCH to the architecture token used by Node.js
// distribution file names.
func DistArch(goarch string) string {
	switch goarch {
	case "arm64":
		return "arm64"
	default:
		return "x64"
	}
}
