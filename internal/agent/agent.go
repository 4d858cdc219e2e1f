// Package agent wires the bootstrap components into one handle used by the
// CLI and the local HTTP API.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/archive"
	"github.com/remoteclauding/rcboot/internal/artifact"
	"github.com/remoteclauding/rcboot/internal/config"
	"github.com/remoteclauding/rcboot/internal/detect"
	"github.com/remoteclauding/rcboot/internal/install"
	"github.com/remoteclauding/rcboot/internal/metrics"
	"github.com/remoteclauding/rcboot/internal/paths"
	"github.com/remoteclauding/rcboot/internal/platform"
	"github.com/remoteclauding/rcboot/internal/progress"
	"github.com/remoteclauding/rcboot/internal/provision"
	"github.com/remoteclauding/rcboot/internal/runner"
	"github.com/remoteclauding/rcboot/internal/runtime"
	"github.com/remoteclauding/rcboot/internal/state"
	"github.com/remoteclauding/rcboot/internal/supervisor"
)

// sampleInterval is how often agent CPU and RSS are recorded while serving.
const sampleInterval = 5 * time.Second

// keepFinished bounds how many finished operations stay queryable.
const keepFinished = 16

// Options configure an Agent. Zero values select the host platform and the
// real process runner.
type Options struct {
	Settings config.Settings
	Platform platform.Platform
	Env      platform.Env
	Reporter progress.Reporter
	Exec     runner.Executor
	Spawner  runner.Spawner
}

// Agent is the top-level handle for the bootstrap layer.
type Agent struct {
	opts   Options
	start  time.Time
	closed atomic.Bool

	Layout      paths.Layout
	Store       *state.Store
	Locator     *runtime.Locator
	Detector    *detect.Detector
	Provisioner *provision.Provisioner
	Installer   *install.Installer
	Supervisor  *supervisor.Supervisor

	events *hub

	mu           sync.Mutex
	ops          map[string]*Operation
	stopSampling context.CancelFunc
}

// New builds an Agent from settings.
func New(opts Options) *Agent {
	if opts.Platform == nil {
		opts.Platform = platform.Host()
	}
	if opts.Env.Getenv == nil {
		opts.Env = platform.HostEnv()
	}
	pr := runner.New()
	if opts.Exec == nil {
		opts.Exec = pr
	}
	if opts.Spawner == nil {
		opts.Spawner = pr
	}
	s := opts.Settings

	a := &Agent{opts: opts, start: time.Now(), events: newHub(), ops: map[string]*Operation{}}
	reporter := progress.Multi(opts.Reporter, a.events)

	a.Layout = s.Layout(opts.Platform, opts.Env)
	a.Store = state.New(a.Layout)
	a.Locator = runtime.NewLocator(opts.Platform, a.Layout, s.CLIName)
	a.Detector = &detect.Detector{
		Store:          a.Store,
		Locator:        a.Locator,
		Exec:           opts.Exec,
		MinNodeVersion: s.MinNodeVersion,
	}
	a.Provisioner = &provision.Provisioner{
		Store:     a.Store,
		Locator:   a.Locator,
		Fetcher:   artifact.NewFetcher(s.DownloadRetries),
		Extractor: archive.ForPlatform(opts.Platform),
		Reporter:  reporter,
		Version:   s.NodeVersion,
		BaseURL:   s.DistBaseURL,
	}
	a.Installer = &install.Installer{
		Store:         a.Store,
		Locator:       a.Locator,
		Exec:          opts.Exec,
		Reporter:      reporter,
		ResourceDir:   s.Resources(),
		DevPackageDir: s.DevPackageDir,
	}
	sup := supervisor.New(a.Store, a.Locator, opts.Spawner)
	sup.HealthURL = s.HealthURL
	sup.HealthTimeout = s.HealthTimeout.D()
	sup.RelayURL = s.RelayURL
	sup.RelayTimeout = s.RelayTimeout.D()
	a.Supervisor = sup

	log.Debug().Str("config_dir", a.Layout.Dir).Str("platform", opts.Platform.GOOS()).Msg("agent ready")
	return a
}

// Close stops background work. The supervised process is left running.
func (a *Agent) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.mu.Lock()
	if a.stopSampling != nil {
		a.stopSampling()
		a.stopSampling = nil
	}
	a.mu.Unlock()
	a.events.close()
	return nil
}

// DetectInstallState reports whether the installer or the app should run.
func (a *Agent) DetectInstallState(ctx context.Context) detect.InstallState {
	st := a.Detector.Detect(ctx)
	metrics.ObserveInstallState(string(st))
	return st
}

func (a *Agent) CheckNode(ctx context.Context) detect.NodeCheck { return a.Detector.CheckNode(ctx) }

func (a *Agent) DownloadPortableNode(ctx context.Context) (string, error) {
	return a.Provisioner.Provision(ctx)
}

func (a *Agent) InstallPackage(ctx context.Context) (string, error) {
	return a.Installer.InstallPackage(ctx)
}

func (a *Agent) RunSetup(ctx context.Context) (string, error) { return a.Installer.Setup(ctx) }

func (a *Agent) MarkInstalled() error { return a.Detector.MarkInstalled() }

// StartAgent starts the agent process and, while serving, samples it.
func (a *Agent) StartAgent(ctx context.Context) (int, error) {
	pid, err := a.Supervisor.Start(ctx)
	if pid > 0 {
		a.sample(pid)
	}
	return pid, err
}

func (a *Agent) StopAgent() supervisor.StopReport {
	a.sample(0)
	return a.Supervisor.Stop()
}

func (a *Agent) CheckHealth(ctx context.Context) bool { return a.Supervisor.Health(ctx) }

func (a *Agent) CheckRelayHealth(ctx context.Context) bool { return a.Supervisor.RelayHealth(ctx) }

func (a *Agent) Status(ctx context.Context) supervisor.Status { return a.Supervisor.Status(ctx) }

func (a *Agent) Logout() supervisor.StopReport {
	a.sample(0)
	return a.Supervisor.Logout()
}

// BootstrapResult summarises a Bootstrap run.
type BootstrapResult struct {
	State       detect.InstallState `json:"state"`
	Provisioned bool                `json:"provisioned"`
	NodeBinary  string              `json:"node_binary,omitempty"`
	SetupError  string              `json:"setup_error,omitempty"`
}

// Bootstrap runs the whole first-run flow: provision a runtime if no usable
// node exists, install the package, run setup and write the marker. A setup
// failure is reported but does not fail the install.
func (a *Agent) Bootstrap(ctx context.Context) (BootstrapResult, error) {
	var res BootstrapResult
	if st := a.DetectInstallState(ctx); st == detect.StateApp {
		res.State = st
		return res, nil
	}
	nc := a.CheckNode(ctx)
	if !nc.Found || !nc.Satisfies {
		bin, err := a.DownloadPortableNode(ctx)
		if err != nil {
			return res, err
		}
		res.Provisioned = true
		res.NodeBinary = bin
	} else {
		res.NodeBinary = nc.Path
	}
	if _, err := a.InstallPackage(ctx); err != nil {
		return res, err
	}
	if _, err := a.RunSetup(ctx); err != nil {
		log.Warn().Err(err).Msg("setup failed; continuing")
		res.SetupError = err.Error()
	}
	if err := a.MarkInstalled(); err != nil {
		return res, err
	}
	res.State = detect.StateApp
	metrics.ObserveInstallState(string(res.State))
	return res, nil
}

// sample restarts the process sampler for pid; pid 0 stops it.
func (a *Agent) sample(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopSampling != nil {
		a.stopSampling()
		a.stopSampling = nil
	}
	if pid <= 0 || a.closed.Load() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopSampling = cancel
	go metrics.SampleProcess(ctx, pid, sampleInterval)
}

// Operation tracks a long-running action started through the API.
type Operation struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Status   string    `json:"status"`
	Result   any       `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
}

// ErrBusy is returned when an operation of the same kind is still running.
var ErrBusy = errors.New("operation already running")

// Go runs fn in the background as an operation of kind and returns its id.
func (a *Agent) Go(kind string, fn func(context.Context) (any, error)) (string, error) {
	a.mu.Lock()
	for _, op := range a.ops {
		if op.Kind == kind && op.Status == "running" {
			a.mu.Unlock()
			return op.ID, fmt.Errorf("%s: %w", kind, ErrBusy)
		}
	}
	op := &Operation{ID: uuid.NewString(), Kind: kind, Status: "running", Started: time.Now().UTC()}
	a.ops[op.ID] = op
	a.mu.Unlock()

	go func() {
		l := log.With().Str("operation", op.ID).Str("kind", kind).Logger()
		l.Info().Msg("operation started")
		res, err := fn(context.Background())
		a.mu.Lock()
		defer a.mu.Unlock()
		defer a.pruneLocked()
		op.Finished = time.Now().UTC()
		op.Result = res
		if err != nil {
			op.Status = "error"
			op.Error = err.Error()
			l.Error().Err(err).Msg("operation failed")
			return
		}
		op.Status = "done"
		l.Info().Msg("operation finished")
	}()
	return op.ID, nil
}

// pruneLocked drops the oldest finished operations beyond keepFinished.
// Callers hold a.mu.
func (a *Agent) pruneLocked() {
	var done []*Operation
	for _, op := range a.ops {
		if op.Status != "running" {
			done = append(done, op)
		}
	}
	if len(done) <= keepFinished {
		return
	}
	slices.SortFunc(done, func(x, y *Operation) int { return x.Finished.Compare(y.Finished) })
	for _, op := range done[:len(done)-keepFinished] {
		delete(a.ops, op.ID)
	}
}

// Operation returns a copy of the operation with id.
func (a *Agent) Operation(id string) (Operation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	op, ok := a.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}
