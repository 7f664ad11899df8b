//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// setProcessGroup 子进程独立成组，超时时连同其子进程一起终止
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
