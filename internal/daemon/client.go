package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Control endpoints served by the dev server.
const (
	StatusPath = "/__status"
	StopPath   = "/__stop"
	NotifyPath = "/__notify"
	HMRPath    = "/__hmr"
)

// Server states reported by the status endpoint.
const (
	ServerStarting = "starting"
	ServerRunning  = "running"
	ServerBuilding = "building"
	ServerFailed   = "failed"
)

// ErrNotRunning is returned when no dev server answers.
var ErrNotRunning = errors.New("dev server not running")

// ServerInfo is the body of the status endpoint.
type ServerInfo struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Modules   int       `json:"modules"`
	Chunks    int       `json:"chunks"`
	Missing   int       `json:"missing"`
	Clients   int       `json:"clients"`
	LastBuild time.Time `json:"last_build,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// NotifyRequest is the body of the notify endpoint.
type NotifyRequest struct {
	Paths []string `json:"paths"`
}

var client = &http.Client{Timeout: 5 * time.Second}

// endpoint accepts a bare host:port or a URL.
func endpoint(addr, path string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + path
	}
	return "http://" + addr + path
}

func post(addr, path string, body interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
	}
	resp, err := client.Post(endpoint(addr, path), "application/json", &buf)
	if err != nil {
		return nil, fmt.Errorf("connecting to dev server: %w", err)
	}
	return resp, nil
}

// Ping asks the server at addr for its status.
func Ping(addr string) (*ServerInfo, error) {
	resp, err := client.Get(endpoint(addr, StatusPath))
	if err != nil {
		return nil, fmt.Errorf("connecting to dev server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dev server returned %s", resp.Status)
	}
	var info ServerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &info, nil
}

// Notify tells the dev server of the current run directory that paths
// changed.
func Notify(paths []string) error {
	addr, err := CurrentRunDir().addr()
	if err != nil {
		return err
	}
	resp, err := post(addr, NotifyPath, NotifyRequest{Paths: paths})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dev server returned %s", resp.Status)
	}
	return nil
}

func requestStop(addr string) error {
	resp, err := post(addr, StopPath, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
