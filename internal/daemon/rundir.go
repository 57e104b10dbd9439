// Package daemon manages the gbld dev server process: the run directory that
// records it, starting it detached, stopping it, and talking to its HTTP
// control endpoints.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDir is the run directory relative to the project root.
	DefaultDir     = ".gbl"
	PIDFileName    = "daemon.pid"
	StatusFileName = "status"

	// ReadyTimeout bounds the wait for the first build after a start.
	ReadyTimeout = 30 * time.Second
	// ShutdownTimeout bounds the wait for a graceful stop before killing.
	ShutdownTimeout = 5 * time.Second
)

// DaemonStatus is what the status file records about the dev server.
type DaemonStatus struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Ready     bool      `json:"ready"`
	Addr      string    `json:"addr,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Error     string    `json:"error,omitempty"`
	Version   string    `json:"version,omitempty"`
}

// RunDir is the directory holding the pid and status files of one dev
// server.
type RunDir string

// CurrentRunDir returns $GBL_DAEMON_DIR, or .gbl under the working directory.
// Start passes its choice to the child through the same variable.
func CurrentRunDir() RunDir {
	if dir := os.Getenv("GBL_DAEMON_DIR"); dir != "" {
		return RunDir(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return RunDir(DefaultDir)
	}
	return RunDir(filepath.Join(cwd, DefaultDir))
}

func (d RunDir) PIDFile() string    { return filepath.Join(string(d), PIDFileName) }
func (d RunDir) StatusFile() string { return filepath.Join(string(d), StatusFileName) }

// writeFile replaces name atomically so readers never see a partial file.
func (d RunDir) writeFile(name string, data []byte) error {
	if err := os.MkdirAll(string(d), 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	tmp, err := os.CreateTemp(string(d), "."+filepath.Base(name)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

// WritePID records pid as the running server.
func (d RunDir) WritePID(pid int) error {
	if err := d.writeFile(d.PIDFile(), []byte(strconv.Itoa(pid))); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

// ReadPID returns the recorded pid.
func (d RunDir) ReadPID() (int, error) {
	data, err := os.ReadFile(d.PIDFile())
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("parsing PID %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// HasPID reports whether a pid file exists.
func (d RunDir) HasPID() bool {
	_, err := os.Stat(d.PIDFile())
	return err == nil
}

// WriteStatus records status for clients of this run directory.
func (d RunDir) WriteStatus(status *DaemonStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	if err := d.writeFile(d.StatusFile(), data); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return nil
}

// ReadStatus returns the recorded status.
func (d RunDir) ReadStatus() (*DaemonStatus, error) {
	data, err := os.ReadFile(d.StatusFile())
	if err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}
	var status DaemonStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("parsing status: %w", err)
	}
	return &status, nil
}

// Clear removes the pid and status files. Missing files are not an error.
func (d RunDir) Clear() error {
	for _, p := range []string{d.PIDFile(), d.StatusFile()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// addr returns the control address recorded in the status file.
func (d RunDir) addr() (string, error) {
	status, err := d.ReadStatus()
	if err != nil {
		return "", ErrNotRunning
	}
	if status.Addr == "" {
		return "", fmt.Errorf("status file has no address")
	}
	return status.Addr, nil
}

// Check combines the run directory with a live probe. A pid file whose
// process is gone is cleaned up and reported as stopped.
func (d RunDir) Check() (*DaemonStatus, error) {
	if !d.HasPID() {
		return &DaemonStatus{}, nil
	}
	pid, err := d.ReadPID()
	if err != nil {
		return &DaemonStatus{Error: err.Error()}, nil
	}
	if !IsProcessRunning(pid) {
		d.Clear()
		return &DaemonStatus{}, nil
	}

	status, err := d.ReadStatus()
	if err != nil {
		status = &DaemonStatus{}
	}
	status.Running = true
	status.PID = pid
	status.Ready = false
	if status.Addr == "" {
		return status, nil
	}

	info, err := Ping(status.Addr)
	if err != nil {
		status.Error = fmt.Sprintf("dev server not responding: %v", err)
		return status, nil
	}
	status.Ready = info.Status != ServerStarting
	status.Hash = info.Hash
	status.Version = info.Version
	if info.LastError != "" {
		status.Error = info.LastError
	}
	return status, nil
}
