// Package runner starts native processes for the bootstrap layer: short
// commands whose output is captured, and the long-lived agent which is
// detached from the helper.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/platform"
)

// Result is the captured outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Executor runs a command and captures its output. The error is non-nil only
// when the command could not be run at all; exit statuses land in Result.
type Executor interface {
	Output(ctx context.Context, cmd platform.Command) (Result, error)
}

// Spawner starts a command in the background and returns its pid.
type Spawner interface {
	Spawn(ctx context.Context, cmd platform.Command) (int, error)
}

// ProcessRunner implements Executor and Spawner with os/exec.
type ProcessRunner struct{}

func New() *ProcessRunner { return &ProcessRunner{} }

// Output runs cmd and waits for it.
func (r *ProcessRunner) Output(ctx context.Context, cmd platform.Command) (Result, error) {
	if cmd.Path == "" {
		return Result{}, fmt.Errorf("empty command")
	}
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	hideWindow(c)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	log.Debug().Str("cmd", cmd.Path).Strs("args", cmd.Args).Int("exit", res.ExitCode).Msg("command finished")
	return res, nil
}

// Spawn starts cmd with stdio on the null device, detached from the helper's
// console and signals. The child is reaped in the background. ctx only bounds
// the start itself.
func (r *ProcessRunner) Spawn(ctx context.Context, cmd platform.Command) (int, error) {
	if cmd.Path == "" {
		return 0, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c := exec.Command(cmd.Path, cmd.Args...)
	detach(c)
	if err := c.Start(); err != nil {
		return 0, err
	}
	pid := c.Process.Pid
	started := time.Now()
	go func() {
		err := c.Wait()
		log.Debug().Int("pid", pid).Dur("uptime", time.Since(started)).AnErr("exit", err).Msg("background process exited")
	}()
	return pid, nil
}

// Terminate asks pid to exit: SIGTERM on unix, TerminateProcess on windows.
func Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return terminate(pid)
}
