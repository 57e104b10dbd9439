package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func useRunDir(t *testing.T) RunDir {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".gbl")
	t.Setenv("GBL_DAEMON_DIR", dir)
	return RunDir(dir)
}

func TestCurrentRunDir(t *testing.T) {
	t.Setenv("GBL_DAEMON_DIR", "")
	cwd, _ := os.Getwd()
	if got, want := CurrentRunDir(), RunDir(filepath.Join(cwd, DefaultDir)); got != want {
		t.Errorf("CurrentRunDir() = %q, want %q", got, want)
	}

	dir := useRunDir(t)
	if got := CurrentRunDir(); got != dir {
		t.Errorf("CurrentRunDir() = %q, want %q", got, dir)
	}
	if got := dir.PIDFile(); got != filepath.Join(string(dir), PIDFileName) {
		t.Errorf("PIDFile() = %q", got)
	}
}

func TestPIDRoundTrip(t *testing.T) {
	dir := useRunDir(t)

	if dir.HasPID() {
		t.Fatal("PID file should not exist yet")
	}
	if err := dir.WritePID(4242); err != nil {
		t.Fatalf("WritePID() failed: %v", err)
	}
	pid, err := dir.ReadPID()
	if err != nil || pid != 4242 {
		t.Errorf("ReadPID() = %d, %v; want 4242", pid, err)
	}

	if err := dir.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if dir.HasPID() {
		t.Error("PID file should be removed")
	}
	if err := dir.Clear(); err != nil {
		t.Errorf("Clear() on an empty dir failed: %v", err)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	for _, content := range []string{"", "abc", "12.5", "-3", "0"} {
		dir := useRunDir(t)
		if err := os.MkdirAll(string(dir), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(dir.PIDFile(), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := dir.ReadPID(); err == nil {
			t.Errorf("ReadPID() with %q should fail", content)
		}
	}
}

func TestStatusRoundTrip(t *testing.T) {
	dir := useRunDir(t)

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := &DaemonStatus{Running: true, PID: 7, Addr: "localhost:8080", StartedAt: started, Version: "dev"}
	if err := dir.WriteStatus(want); err != nil {
		t.Fatalf("WriteStatus() failed: %v", err)
	}
	got, err := dir.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus() failed: %v", err)
	}
	if got.Addr != want.Addr || got.PID != want.PID || !got.StartedAt.Equal(started) {
		t.Errorf("ReadStatus() = %+v, want %+v", got, want)
	}

	entries, _ := os.ReadDir(string(dir))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

func TestReadStatusInvalidJSON(t *testing.T) {
	dir := useRunDir(t)
	if err := os.MkdirAll(string(dir), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir.StatusFile(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := dir.ReadStatus(); err == nil || !strings.Contains(err.Error(), "parsing status") {
		t.Errorf("ReadStatus() error = %v, want parse error", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
}

func TestCheckWithoutPID(t *testing.T) {
	dir := useRunDir(t)

	status, err := dir.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if status.Running || status.Ready {
		t.Errorf("Check() = %+v, want stopped", status)
	}
}

func TestCheckWithServer(t *testing.T) {
	dir := useRunDir(t)
	srv := newControlServer(t, ServerInfo{Status: ServerRunning, Hash: "f00d", Version: "1.2.3"})
	dir.WritePID(os.Getpid())
	dir.WriteStatus(&DaemonStatus{Running: true, PID: os.Getpid(), Addr: srv.URL})

	status, err := dir.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !status.Running || !status.Ready {
		t.Errorf("Check() = %+v, want running and ready", status)
	}
	if status.Hash != "f00d" || status.Version != "1.2.3" {
		t.Errorf("Check() = %+v, want server info", status)
	}
}

func TestCheckNotResponding(t *testing.T) {
	dir := useRunDir(t)
	srv := newControlServer(t, ServerInfo{Status: ServerRunning})
	addr := srv.URL
	srv.Close()
	dir.WritePID(os.Getpid())
	dir.WriteStatus(&DaemonStatus{Running: true, PID: os.Getpid(), Addr: addr})

	status, err := dir.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !status.Running || status.Ready {
		t.Errorf("Check() = %+v, want running but not ready", status)
	}
	if !strings.Contains(status.Error, "not responding") {
		t.Errorf("Error = %q", status.Error)
	}
}
