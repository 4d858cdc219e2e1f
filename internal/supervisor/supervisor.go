// Package supervisor starts, stops and probes the background agent process.
// The pid file is the only link between the helper and the agent; nothing is
// kept in memory across helper restarts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/metrics"
	"github.com/remoteclauding/rcboot/internal/runner"
	"github.com/remoteclauding/rcboot/internal/runtime"
	"github.com/remoteclauding/rcboot/internal/state"
)

// State of the supervised agent.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

var allStates = []string{string(StateStopped), string(StateStarting), string(StateRunning)}

// Defaults for the probes.
const (
	DefaultHealthURL     = "http://127.0.0.1:9680/health"
	DefaultHealthTimeout = 2 * time.Second
	DefaultRelayURL      = "https://claude.iptinno.com"
	DefaultRelayTimeout  = 5 * time.Second
)

// ErrSpawn wraps failures to launch the agent.
var ErrSpawn = errors.New("failed to start agent")

// Supervisor manages one agent process.
type Supervisor struct {
	Store   *state.Store
	Locator *runtime.Locator
	Spawner runner.Spawner

	HealthURL     string
	HealthTimeout time.Duration
	RelayURL      string
	RelayTimeout  time.Duration

	// Hooks default to the runner implementations.
	Terminate func(pid int) error
	Alive     func(ctx context.Context, pid int) bool
	Probe     func(ctx context.Context, url string, timeout time.Duration) bool

	mu    sync.Mutex
	state State
}

// New returns a Supervisor with default endpoints and OS hooks.
func New(store *state.Store, loc *runtime.Locator, sp runner.Spawner) *Supervisor {
	return &Supervisor{
		Store:         store,
		Locator:       loc,
		Spawner:       sp,
		HealthURL:     DefaultHealthURL,
		HealthTimeout: DefaultHealthTimeout,
		RelayURL:      DefaultRelayURL,
		RelayTimeout:  DefaultRelayTimeout,
		Terminate:     runner.Terminate,
		Alive:         runner.Alive,
		Probe:         runner.Probe,
		state:         StateStopped,
	}
}

// State returns the last state this supervisor transitioned to.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return StateStopped
	}
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	log.Info().Str("component", "agent").Str("state", string(st)).Msg("state change")
	metrics.ObserveAgentState(string(st), allStates...)
}

// Start launches "<cli> start" in the background and records its pid.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	if pid, err := s.Store.PID(); err == nil && s.alive(ctx, pid) {
		log.Warn().Int("pid", pid).Msg("replacing pid record of a live agent")
	}
	s.setState(StateStarting)
	nc := s.Store.NodeConfig()
	cmd := s.Locator.CLI(nc.Portable).With("start")
	pid, err := s.Spawner.Spawn(ctx, cmd)
	if err != nil {
		s.setState(StateStopped)
		err = fmt.Errorf("%w: %w", ErrSpawn, err)
		metrics.ObserveAgentStart(err)
		return 0, err
	}
	metrics.ObserveAgentStart(nil)
	log.Info().Int("pid", pid).Str("cmd", cmd.Path).Bool("fallback", cmd.Fallback).Msg("agent started")
	if err := s.Store.SavePID(pid); err != nil {
		s.setState(StateRunning)
		return pid, fmt.Errorf("agent running as pid %d but not recorded: %w", pid, err)
	}
	s.setState(StateRunning)
	return pid, nil
}

// StopReport says what Stop found and did.
type StopReport struct {
	PID       int  `json:"pid,omitempty"`
	Signalled bool `json:"signalled"`
}

// Stop terminates the recorded agent, if any, and always removes the pid
// record. It never fails; termination errors are logged.
func (s *Supervisor) Stop() StopReport {
	var rep StopReport
	pid, err := s.Store.PID()
	switch {
	case errors.Is(err, state.ErrNoPID):
	case err != nil:
		log.Warn().Err(err).Msg("ignoring pid record")
	default:
		rep.PID = pid
		if terr := s.terminate(pid); terr != nil {
			log.Warn().Int("pid", pid).Err(terr).Msg("terminate failed")
		} else {
			rep.Signalled = true
			log.Info().Int("pid", pid).Msg("agent signalled")
		}
	}
	s.Store.DiscardPID()
	metrics.ObserveAgentStop(rep.Signalled)
	s.setState(StateStopped)
	return rep
}

// Health probes the agent's local health endpoint.
func (s *Supervisor) Health(ctx context.Context) bool {
	ok := s.probe(ctx, s.HealthURL, s.HealthTimeout)
	metrics.SetHealthy(ok)
	return ok
}

// RelayHealth probes the relay server.
func (s *Supervisor) RelayHealth(ctx context.Context) bool {
	return s.probe(ctx, strings.TrimRight(s.RelayURL, "/")+"/health", s.RelayTimeout)
}

// Status is a point-in-time view of the agent and the account.
type Status struct {
	State        State  `json:"state"`
	PID          int    `json:"pid,omitempty"`
	ProcessAlive bool   `json:"process_alive"`
	Healthy      bool   `json:"healthy"`
	RelayHealthy bool   `json:"relay_healthy"`
	LoggedIn     bool   `json:"logged_in"`
	Email        string `json:"email,omitempty"`
}

// Status gathers the pid record, process liveness, both probes and the
// account email. The state is derived from what was observed.
func (s *Supervisor) Status(ctx context.Context) Status {
	var st Status
	if pid, err := s.Store.PID(); err == nil {
		st.PID = pid
		st.ProcessAlive = s.alive(ctx, pid)
	}
	st.Healthy = s.Health(ctx)
	st.RelayHealthy = s.RelayHealth(ctx)
	ac := s.Store.AppConfig()
	st.LoggedIn = ac.AuthToken != nil && *ac.AuthToken != ""
	if ac.Email != nil {
		st.Email = *ac.Email
	}
	switch {
	case st.Healthy:
		st.State = StateRunning
	case st.ProcessAlive:
		st.State = StateStarting
	default:
		st.State = StateStopped
	}
	return st
}

// Logout stops the agent and forgets the account.
func (s *Supervisor) Logout() StopReport {
	rep := s.Stop()
	s.Store.DiscardAppConfig()
	log.Info().Msg("logged out")
	return rep
}

func (s *Supervisor) terminate(pid int) error {
	if s.Terminate == nil {
		return runner.Terminate(pid)
	}
	return s.Terminate(pid)
}

func (s *Supervisor) alive(ctx context.Context, pid int) bool {
	if s.Alive == nil {
		return runner.Alive(ctx, pid)
	}
	return s.Alive(ctx, pid)
}

func (s *Supervisor) probe(ctx context.Context, url string, timeout time.Duration) bool {
	if s.Probe == nil {
		return runner.Probe(ctx, url, timeout)
	}
	return s.Probe(ctx, url, timeout)
}
