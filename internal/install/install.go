// Package install installs the agent package globally into the selected
// runtime and runs the agent's editor integration setup.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/progress"
	"github.com/remoteclauding/rcboot/internal/runner"
	"github.com/remoteclauding/rcboot/internal/runtime"
	"github.com/remoteclauding/rcboot/internal/state"
)

// PackageDirName is the bundled package directory under the resource dir.
const PackageDirName = "npm-package"

// CommandError describes a subprocess that failed to run or exited non-zero.
type CommandError struct {
	Op       string
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %s\n%s", e.Op, e.Stderr, e.Stdout)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Installer runs npm and the agent CLI through the runtime the persisted node
// config selects.
type Installer struct {
	Store    *state.Store
	Locator  *runtime.Locator
	Exec     runner.Executor
	Reporter progress.Reporter
	// ResourceDir holds the bundled npm-package directory.
	ResourceDir string
	// DevPackageDir is used when no bundled package exists. Empty means two
	// directories above the executable's directory.
	DevPackageDir string
}

// PackageSource returns the directory handed to npm install.
func (i *Installer) PackageSource() string {
	bundled := ""
	if i.ResourceDir != "" {
		bundled = filepath.Join(i.ResourceDir, PackageDirName)
		if _, err := os.Stat(bundled); err == nil {
			return bundled
		}
	}
	if i.DevPackageDir != "" {
		return i.DevPackageDir
	}
	if dev := DefaultDevPackageDir(); dev != "" {
		return dev
	}
	return bundled
}

// DefaultDevPackageDir is the source checkout root relative to a development
// build of the helper.
func DefaultDevPackageDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(exe)))
}

// InstallPackage runs "npm install -g <source>", adding --prefix for the
// portable runtime, and returns npm's stdout.
func (i *Installer) InstallPackage(ctx context.Context) (string, error) {
	step := progress.For(i.Reporter, progress.StepInstallNpm)
	step.Started("Installing Remote Clauding...")

	nc := i.Store.NodeConfig()
	cmd := i.Locator.Npm(nc.Portable).With("install", "-g", i.PackageSource())
	if nc.Portable {
		cmd = cmd.With("--prefix=" + i.Locator.Layout.NodeDir())
	}
	log.Info().Str("cmd", cmd.Path).Strs("args", cmd.Args).Bool("portable", nc.Portable).Msg("installing agent package")

	res, err := i.Exec.Output(ctx, cmd)
	if err != nil {
		cerr := &CommandError{Op: "npm install", Args: cmd.Argv(), Err: err}
		step.Error(cerr.Error())
		return "", cerr
	}
	if !res.Success() {
		step.Error("npm install failed: " + res.Stderr)
		return "", &CommandError{Op: "npm install", Args: cmd.Argv(), Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	}
	step.Done("Remote Clauding installed.")
	return res.Stdout, nil
}

// Setup runs "<cli> setup", which installs the editor extension.
func (i *Installer) Setup(ctx context.Context) (string, error) {
	step := progress.For(i.Reporter, progress.StepSetup)
	step.Started("Installing VSCode extension...")

	nc := i.Store.NodeConfig()
	cmd := i.Locator.CLI(nc.Portable).With("setup")
	res, err := i.Exec.Output(ctx, cmd)
	if err != nil {
		cerr := &CommandError{Op: "setup", Args: cmd.Argv(), Err: err}
		step.Error(cerr.Error())
		return "", cerr
	}
	if !res.Success() {
		step.Error("VSCode extension install failed: " + res.Stderr)
		return "", &CommandError{Op: "setup", Args: cmd.Argv(), Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	}
	step.Done("VSCode extension installed.")
	return res.Stdout, nil
}
