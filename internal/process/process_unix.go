//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group so that helper
// processes it forks are signalled together with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the process group.
func terminate(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// kill sends SIGKILL to the process group.
func kill(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// isProcessAlive checks if a process with the given PID is still running.
// On Unix systems, we use signal 0 which is a no-op that tests process existence.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// ESRCH = no such process, EPERM = process exists but no permission
	err = process.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
