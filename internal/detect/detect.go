// Package detect decides whether the agent CLI is already usable on this
// machine and reports on the available Node.js runtime.
package detect

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/platform"
	"github.com/remoteclauding/rcboot/internal/runner"
	"github.com/remoteclauding/rcboot/internal/runtime"
	"github.com/remoteclauding/rcboot/internal/state"
)

// InstallState is the outcome of detection.
type InstallState string

const (
	StateApp       InstallState = "app"
	StateInstaller InstallState = "installer"
)

// DefaultMinNodeVersion is the oldest runtime the agent supports.
const DefaultMinNodeVersion = ">= 18.0.0"

// Detector inspects the marker, the system CLI and the portable runtime.
type Detector struct {
	Store          *state.Store
	Locator        *runtime.Locator
	Exec           runner.Executor
	MinNodeVersion string
}

// Detect returns StateApp if the CLI is installed and StateInstaller
// otherwise. A positive result from the slower checks is remembered with
// the marker file so later calls spawn nothing.
func (d *Detector) Detect(ctx context.Context) InstallState {
	if d.Store.MarkerExists() {
		return StateApp
	}
	if d.succeeds(ctx, d.Locator.CLI(false).With("--version")) {
		d.remember("system")
		return StateApp
	}
	if d.Store.NodeConfig().Portable && d.Locator.HasPortableCLI() {
		d.remember("portable")
		return StateApp
	}
	return StateInstaller
}

func (d *Detector) succeeds(ctx context.Context, cmd platform.Command) bool {
	res, err := d.Exec.Output(ctx, cmd)
	return err == nil && res.Success()
}

func (d *Detector) remember(via string) {
	log.Info().Str("via", via).Msg("agent CLI detected")
	if err := d.Store.WriteMarker(); err != nil {
		log.Warn().Err(err).Msg("install marker not written")
	}
}

// MarkInstalled records a completed installation.
func (d *Detector) MarkInstalled() error {
	return d.Store.WriteMarker()
}

// NodeCheck describes the runtime CheckNode found.
type NodeCheck struct {
	Found     bool   `json:"found"`
	Version   string `json:"version"`
	Path      string `json:"path"`
	Portable  bool   `json:"portable"`
	Satisfies bool   `json:"satisfies"`
}

// CheckNode looks for node on the search path, then in the portable runtime.
func (d *Detector) CheckNode(ctx context.Context) NodeCheck {
	if nc, ok := d.nodeVersion(ctx, d.Locator.NodeBinary(false)); ok {
		return nc
	}
	if d.Locator.HasPortableNode() {
		if nc, ok := d.nodeVersion(ctx, d.Locator.NodeBinary(true)); ok {
			nc.Portable = true
			return nc
		}
	}
	return NodeCheck{}
}

func (d *Detector) nodeVersion(ctx context.Context, bin string) (NodeCheck, bool) {
	res, err := d.Exec.Output(ctx, platform.Command{Path: bin, Args: []string{"--version"}})
	if err != nil || !res.Success() {
		return NodeCheck{}, false
	}
	v := strings.TrimSpace(res.Stdout)
	return NodeCheck{Found: true, Version: v, Path: bin, Satisfies: d.satisfies(v)}, true
}

func (d *Detector) satisfies(version string) bool {
	constraint := d.MinNodeVersion
	if constraint == "" {
		constraint = DefaultMinNodeVersion
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		log.Warn().Str("constraint", constraint).Err(err).Msg("invalid node version constraint")
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}
