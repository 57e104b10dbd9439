package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Start launches gbld for the current run directory. The child writes the
// status file itself once it listens; Start only records the pid.
func Start(opts *StartOptions) (*StartResult, error) {
	dir := CurrentRunDir()
	if status, err := dir.Check(); err == nil && status.Running {
		return &StartResult{PID: status.PID, Addr: status.Addr, Error: "dev server already running"}, nil
	}
	dir.Clear()

	bin := opts.DaemonPath
	if bin == "" {
		bin = findDaemonBinary()
	}
	bin, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("daemon binary not found: %w", err)
	}

	cmd := exec.Command(bin, daemonArgs(opts)...)
	cmd.Env = append(os.Environ(), "GBL_DAEMON_DIR="+string(dir))
	if opts.Background {
		detach(cmd)
	} else {
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting daemon: %w", err)
	}

	result := &StartResult{Success: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	if err := dir.WritePID(result.PID); err != nil {
		cmd.Process.Kill()
		return nil, err
	}
	if !opts.WaitForReady {
		return result, nil
	}

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = ReadyTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	status, err := waitForReady(ctx, dir)
	if err != nil {
		cmd.Process.Kill()
		dir.Clear()
		result.Success = false
		result.Error = fmt.Sprintf("dev server not ready: %v", err)
		return result, nil
	}
	result.Ready = true
	result.Addr = status.Addr
	return result, nil
}

func daemonArgs(opts *StartOptions) []string {
	var args []string
	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}
	if opts.Root != "" {
		args = append(args, "--root", opts.Root)
	}
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

// findDaemonBinary prefers $GBL_DAEMON_PATH, then gbld next to the running
// executable, then ./bin/gbld, then PATH.
func findDaemonBinary() string {
	if path := os.Getenv("GBL_DAEMON_PATH"); path != "" {
		return path
	}
	name := "gbld" + exeSuffix
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), name))
	}
	candidates = append(candidates, filepath.Join(".", "bin", name))
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "gbld"
}

// waitForReady polls dir until the server finished its first build, exited,
// or ctx expired.
func waitForReady(ctx context.Context, dir RunDir) (*DaemonStatus, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := dir.Check()
		switch {
		case err != nil:
		case !status.Running:
			return nil, fmt.Errorf("dev server exited")
		case status.Ready:
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for dev server: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop asks the server to shut down and kills it when it does not exit
// within ShutdownTimeout.
func Stop() (*StopResult, error) {
	dir := CurrentRunDir()
	if !dir.HasPID() {
		return &StopResult{Error: "dev server not running (no PID file)"}, nil
	}
	pid, err := dir.ReadPID()
	if err != nil {
		return &StopResult{Error: err.Error()}, nil
	}
	if !IsProcessRunning(pid) {
		dir.Clear()
		return &StopResult{Error: "dev server not running (process not found)"}, nil
	}

	stopped := false
	if addr, err := dir.addr(); err == nil && requestStop(addr) == nil {
		stopped = waitForExit(pid, ShutdownTimeout)
	}
	if !stopped {
		if process, err := os.FindProcess(pid); err == nil {
			if err := process.Kill(); err != nil {
				return &StopResult{PID: pid, Error: fmt.Sprintf("failed to kill process: %v", err)}, nil
			}
			waitForExit(pid, 2*time.Second)
		}
	}
	dir.Clear()
	return &StopResult{Success: true, PID: pid, StoppedAt: time.Now()}, nil
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// GetStatus reports the dev server of the current run directory.
func GetStatus() (*StatusResult, error) {
	status, err := CurrentRunDir().Check()
	if err != nil {
		return &StatusResult{Status: "unknown", Error: err.Error()}, nil
	}

	result := &StatusResult{
		Running:   status.Running,
		Ready:     status.Ready,
		PID:       status.PID,
		Addr:      status.Addr,
		Version:   status.Version,
		Hash:      status.Hash,
		StartedAt: status.StartedAt,
		Error:     status.Error,
	}
	switch {
	case !status.Running:
		result.Status = "stopped"
	case !status.Ready:
		result.Status = ServerStarting
	default:
		result.Status = ServerRunning
	}
	return result, nil
}
