package healthcheck

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/go-bundle/internal/config"
)

func projectConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "index.js"), []byte("console.log(1);\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Root = root
	cfg.HMR.Port = 0
	return cfg
}

func find(result *HealthCheckResult, name, target string) *CheckStatus {
	for i := range result.Checks {
		c := &result.Checks[i]
		if c.Name == name && (target == "" || c.Target == target) {
			return c
		}
	}
	return nil
}

func TestCheckWithNilConfig(t *testing.T) {
	_, err := Check(context.Background(), nil, "", "")
	if err == nil {
		t.Error("Expected error for nil config, got nil")
	}
}

func TestCheckHealthyProject(t *testing.T) {
	cfg := projectConfig(t)

	result, err := Check(context.Background(), cfg, "", "")
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result.Failed() {
		t.Errorf("Check() failed checks: %+v", result.Checks)
	}

	entry := find(result, "entry", "index")
	if entry == nil || entry.Status != StatusOK {
		t.Fatalf("entry check = %+v, want ok", entry)
	}
	if entry.Detail != filepath.Join(cfg.Root, "src", "index.js") {
		t.Errorf("entry detail = %q", entry.Detail)
	}
	if c := find(result, "output", ""); c == nil || c.Status != StatusOK {
		t.Errorf("output check = %+v, want ok", c)
	}
	if c := find(result, "cache", ""); c == nil || c.Status != StatusOK {
		t.Errorf("cache check = %+v, want ok", c)
	}
	if c := find(result, "port", ""); c == nil || c.Status != StatusOK {
		t.Errorf("port check = %+v, want ok", c)
	}
}

func TestCheckMissingEntry(t *testing.T) {
	cfg := projectConfig(t)
	cfg.Entry = map[string]string{"admin": "src/admin.js", "index": "src/index.js"}

	result, err := Check(context.Background(), cfg, "", "")
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !result.Failed() {
		t.Error("Check() should fail with a missing entry")
	}
	if c := find(result, "entry", "admin"); c == nil || c.Status != StatusError {
		t.Errorf("admin entry check = %+v, want error", c)
	}
	if c := find(result, "entry", "index"); c == nil || c.Status != StatusOK {
		t.Errorf("index entry check = %+v, want ok", c)
	}
	if result.Checks[0].Target != "admin" {
		t.Errorf("entries should be checked in name order, got %q first", result.Checks[0].Target)
	}
}

func TestCheckPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	c := checkPort(ln.Addr().String())
	if c.Status != StatusError {
		t.Errorf("checkPort(busy) = %+v, want error", c)
	}
}

func TestCheckSkipsDisabled(t *testing.T) {
	cfg := projectConfig(t)
	cfg.HMR.Enabled = false
	cfg.Cache.Enabled = false

	result, err := Check(context.Background(), cfg, "", "")
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if find(result, "port", "") != nil || find(result, "cache", "") != nil {
		t.Errorf("disabled checks ran: %+v", result.Checks)
	}
}

func TestScopeFromPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		path string
		want string
	}{
		{"", ""},
		{filepath.Join(home, ".gbl", "config.yaml"), "global"},
		{filepath.Join(".gbl", "config.yaml"), "project"},
	}
	for _, tt := range tests {
		if got := scopeFromPath(tt.path); got != tt.want {
			t.Errorf("scopeFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
