//go:build !unix && !windows

package runner

import (
	"errors"
	"os"
	"os/exec"
)

func hideWindow(*exec.Cmd) {}

func detach(*exec.Cmd) {}

func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return errors.Join(p.Kill(), p.Release())
}
