//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

const exeSuffix = ""

// detach starts cmd in its own session so it outlives the terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// IsProcessRunning checks if a process with the given PID is running
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes the process.
	return process.Signal(syscall.Signal(0)) == nil
}
