package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newControlServer(t *testing.T, info ServerInfo) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case StatusPath:
			json.NewEncoder(w).Encode(info)
		case NotifyPath:
			var req NotifyRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Paths) == 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPing(t *testing.T) {
	srv := newControlServer(t, ServerInfo{Status: ServerBuilding, Modules: 12})

	info, err := Ping(srv.URL)
	if err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
	if info.Status != ServerBuilding || info.Modules != 12 {
		t.Errorf("Ping() = %+v", info)
	}
}

func TestPingNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := Ping(srv.URL); err == nil {
		t.Error("Ping() against a non dev server should fail")
	}
}

func TestNotify(t *testing.T) {
	dir := useRunDir(t)

	if err := Notify([]string{"src/a.js"}); err != ErrNotRunning {
		t.Errorf("Notify() without server = %v, want ErrNotRunning", err)
	}

	srv := newControlServer(t, ServerInfo{Status: ServerRunning})
	dir.WriteStatus(&DaemonStatus{Running: true, Addr: srv.URL})
	if err := Notify([]string{"src/a.js"}); err != nil {
		t.Errorf("Notify() failed: %v", err)
	}
	if err := Notify(nil); err == nil {
		t.Error("Notify(nil) should be rejected by the server")
	}
}

func TestRequestStop(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == StopPath {
			atomic.AddInt32(&hits, 1)
		}
	}))
	defer srv.Close()

	if err := requestStop(srv.URL); err != nil {
		t.Fatalf("requestStop() failed: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("stop endpoint hit %d times, want 1", hits)
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"localhost:8080", "http://localhost:8080/__status"},
		{"http://127.0.0.1:9000", "http://127.0.0.1:9000/__status"},
		{"http://127.0.0.1:9000/", "http://127.0.0.1:9000/__status"},
	}
	for _, tt := range tests {
		if got := endpoint(tt.addr, StatusPath); got != tt.want {
			t.Errorf("endpoint(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
