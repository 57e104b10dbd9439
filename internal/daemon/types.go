package daemon

import "time"

// StartOptions contains options for starting the dev server
type StartOptions struct {
	// DaemonPath is the path to the gbld executable
	DaemonPath string
	// ConfigPath is the path to the config file
	ConfigPath string
	// Root is the project directory the server builds
	Root string
	// Verbose enables debug logging
	Verbose bool
	// WaitForReady waits until the first build finished
	WaitForReady bool
	// ReadyTimeout bounds the wait for readiness
	ReadyTimeout time.Duration
	// Background detaches the server from the terminal
	Background bool
}

// StartResult contains the result of a start operation
type StartResult struct {
	Success   bool      `json:"success"`
	PID       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Ready     bool      `json:"ready"`
	Addr      string    `json:"addr,omitempty"`
}

// StopResult contains the result of a stop operation
type StopResult struct {
	Success   bool      `json:"success"`
	PID       int       `json:"pid,omitempty"`
	StoppedAt time.Time `json:"stopped_at"`
	Error     string    `json:"error,omitempty"`
}

// StatusResult contains the result of a status operation
type StatusResult struct {
	Status    string    `json:"status"`
	Running   bool      `json:"running"`
	Ready     bool      `json:"ready"`
	PID       int       `json:"pid,omitempty"`
	Addr      string    `json:"addr,omitempty"`
	Version   string    `json:"version,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}
