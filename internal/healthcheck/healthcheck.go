package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/resolver"
)

// Check statuses.
const (
	StatusOK    = "ok"
	StatusWarn  = "warn"
	StatusError = "error"
)

// CheckStatus is the outcome of one check.
type CheckStatus struct {
	Name   string // "entry", "output", "cache" or "port"
	Target string // what was checked: an entry name, a directory, an address
	Status string
	Detail string
	Error  string
}

// HealthCheckResult contains the full health check output for display.
type HealthCheckResult struct {
	SavedPath      string
	SavedScope     string // "global" or "project"
	EffectivePath  string
	EffectiveScope string // "global" or "project"
	Checks         []CheckStatus
}

// Failed reports whether any check errored.
func (r *HealthCheckResult) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusError {
			return true
		}
	}
	return false
}

// Check performs a health check against the given config.
// savedPath is where the user saved config (may be empty outside init).
// effectivePath is the config file actually in use (considering priority).
func Check(ctx context.Context, cfg *config.Config, savedPath string, effectivePath string) (*HealthCheckResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	result := &HealthCheckResult{
		SavedPath:      savedPath,
		SavedScope:     scopeFromPath(savedPath),
		EffectivePath:  effectivePath,
		EffectiveScope: scopeFromPath(effectivePath),
	}

	entries, err := checkEntries(ctx, cfg)
	if err != nil {
		return nil, err
	}
	result.Checks = append(result.Checks, entries...)

	outDir, err := cfg.OutDir()
	if err != nil {
		return nil, err
	}
	result.Checks = append(result.Checks, checkWritable("output", outDir, StatusError))

	if cfg.Cache.Enabled {
		cacheDir, err := cfg.CacheDir()
		if err != nil {
			return nil, err
		}
		result.Checks = append(result.Checks, checkWritable("cache", cacheDir, StatusWarn))
	}

	if cfg.HMR.Enabled {
		result.Checks = append(result.Checks, checkPort(cfg.Addr()))
	}
	return result, nil
}

// scopeFromPath determines "global" or "project" scope from a config file path.
// Returns empty string if path is empty.
func scopeFromPath(path string) string {
	if path == "" {
		return ""
	}

	home, err := os.UserHomeDir()
	if err == nil {
		globalDir := filepath.Join(home, ".gbl")
		if strings.HasPrefix(path, globalDir) {
			return "global"
		}
	}
	return "project"
}

// checkEntries resolves every configured entry in name order.
func checkEntries(ctx context.Context, cfg *config.Config) ([]CheckStatus, error) {
	opts, err := cfg.ResolverOptions()
	if err != nil {
		return nil, err
	}
	res := resolver.New(opts, nil, log.Nop())

	names := make([]string, 0, len(cfg.Entry))
	for name := range cfg.Entry {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make([]CheckStatus, 0, len(names))
	for _, name := range names {
		status := CheckStatus{Name: "entry", Target: name, Detail: cfg.Entry[name]}
		r, err := res.ResolveEntry(ctx, cfg.Entry[name])
		switch {
		case err == nil:
			status.Status = StatusOK
			status.Detail = r.Path
		case errors.Is(err, resolver.ErrNotFound):
			status.Status = StatusError
			status.Error = fmt.Sprintf("cannot resolve %s", cfg.Entry[name])
		default:
			status.Status = StatusError
			status.Error = err.Error()
		}
		checks = append(checks, status)
	}
	return checks, nil
}

// checkWritable creates dir if needed and writes a probe file into it.
func checkWritable(name, dir, failure string) CheckStatus {
	status := CheckStatus{Name: name, Target: dir}
	if err := os.MkdirAll(dir, 0755); err != nil {
		status.Status = failure
		status.Error = fmt.Sprintf("cannot create directory: %v", err)
		return status
	}
	f, err := os.CreateTemp(dir, ".gbl-probe-*")
	if err != nil {
		status.Status = failure
		status.Error = fmt.Sprintf("directory not writable: %v", err)
		return status
	}
	f.Close()
	os.Remove(f.Name())
	status.Status = StatusOK
	return status
}

// checkPort verifies the dev server address can be bound.
func checkPort(addr string) CheckStatus {
	status := CheckStatus{Name: "port", Target: addr}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		status.Status = StatusError
		status.Error = fmt.Sprintf("cannot listen on %s: %v", addr, err)
		return status
	}
	ln.Close()
	status.Status = StatusOK
	return status
}
