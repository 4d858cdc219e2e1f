//go:build unix

package runner

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func hideWindow(*exec.Cmd) {}

// detach puts the child in its own process group so terminal signals sent to
// the helper do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
