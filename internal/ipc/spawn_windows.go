//go:build windows

package ipc

import (
	"os/exec"
	"syscall"
)

// setProcAttr starts the backend in a new process group so console
// interrupts aimed at the picker do not reach it.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
