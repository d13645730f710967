//go:build windows

package cli

import (
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows. Run the server under a service
// wrapper such as NSSM for production use.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning reports whether a process with the given PID exists.
// FindProcess opens a handle on Windows and fails for unknown PIDs.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// stopProcess kills the process on Windows (no graceful SIGTERM support).
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
