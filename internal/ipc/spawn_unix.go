//go:build !windows

package ipc

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the backend in its own process group so terminal signals
// aimed at the picker do not reach it.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
