// Package devserver serves a watched build: it rebuilds when files change,
// pushes hot update payloads to browsers over a websocket, serves the output
// directory and answers the control endpoints used by gbl.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/l3aro/go-bundle/internal/daemon"
	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/build"
	"github.com/l3aro/go-bundle/pkg/hmr"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/watch"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Addr is the listen address, host:port.
	Addr string
	// OutDir is served as static files.
	OutDir string
	// Version is reported by the status endpoint.
	Version string
	// WriteStatus records the PID and status files for gbl dev status.
	WriteStatus bool
}

// Server is a running dev server.
type Server struct {
	opts     Options
	compiler *build.Compiler
	watcher  *watch.Watcher
	hub      *Hub
	logger   log.Logger

	mu     sync.RWMutex
	driver *hmr.Driver
	info   daemon.ServerInfo
	addr   string
	stop   context.CancelFunc
}

// New creates a Server. The compiler must be configured for watch mode.
func New(compiler *build.Compiler, watcher *watch.Watcher, opts Options, logger log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	return &Server{
		opts:     opts,
		compiler: compiler,
		watcher:  watcher,
		hub:      NewHub(logger),
		logger:   logger,
		info:     daemon.ServerInfo{Status: daemon.ServerStarting, Version: opts.Version},
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(daemon.HMRPath, s.hub)
	mux.HandleFunc(daemon.StatusPath, s.handleStatus)
	mux.HandleFunc(daemon.NotifyPath, s.handleNotify)
	mux.HandleFunc(daemon.StopPath, s.handleStop)
	if s.opts.OutDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.OutDir)))
	}
	return mux
}

// Addr returns the address the server listens on once Run started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Info returns the current server state.
func (s *Server) Info() daemon.ServerInfo {
	s.mu.RLock()
	info := s.info
	s.mu.RUnlock()
	info.Clients = s.hub.Len()
	return info
}

// Graph returns the module graph of the last successful build, nil before
// the first one.
func (s *Server) Graph() *modulegraph.ModuleGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.driver == nil {
		return nil
	}
	return s.driver.Graph()
}

// Run listens, builds, and rebuilds on change until ctx is done or a stop
// request arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.stop = cancel
	s.mu.Unlock()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	s.logger.Info("dev server listening", "addr", s.addr)

	if s.opts.WriteStatus {
		if err := s.writeStatus(); err != nil {
			s.logger.Warn("failed to write status file", "error", err)
		}
		defer daemon.CurrentRunDir().Clear()
	}

	if changed, err := s.watcher.Snapshot(ctx); err != nil {
		s.logger.Warn("initial snapshot failed", "error", err)
	} else if len(changed) > 0 {
		s.logger.Info("files changed since last run", "count", len(changed))
	}
	s.rebuild(ctx)

	watchErr := make(chan error, 1)
	go func() { watchErr <- s.watcher.Run(ctx, s.handle) }()

	var runErr error
	select {
	case <-ctx.Done():
		<-watchErr
	case runErr = <-serveErr:
		cancel()
		<-watchErr
	}

	s.hub.Close()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("dev server shutdown", "error", err)
	}
	s.logger.Info("dev server stopped")
	return runErr
}

func (s *Server) writeStatus() error {
	dir := daemon.CurrentRunDir()
	if err := dir.WritePID(os.Getpid()); err != nil {
		return err
	}
	return dir.WriteStatus(&daemon.DaemonStatus{
		Running:   true,
		PID:       os.Getpid(),
		Addr:      s.Addr(),
		StartedAt: time.Now(),
		Version:   s.opts.Version,
	})
}

// handle applies one batch of changed files.
func (s *Server) handle(ctx context.Context, paths []string) error {
	s.mu.RLock()
	driver := s.driver
	s.mu.RUnlock()
	if driver == nil {
		return s.rebuild(ctx)
	}

	s.setStatus(daemon.ServerBuilding)
	payload, ur, err := driver.Update(ctx, paths)
	if err != nil {
		// The next change rebuilds from scratch and reloads clients.
		s.mu.Lock()
		s.driver = nil
		s.mu.Unlock()
		s.fail(err)
		return err
	}
	s.succeed(driver)
	if payload == nil {
		return nil
	}
	s.logger.Info("hot update",
		"modified", len(ur.Modified),
		"added", len(ur.Added),
		"removed", len(ur.Removed),
		"reload", payload.Reload,
		"hash", payload.Hash)
	s.hub.Broadcast(payload)
	return nil
}

// rebuild runs a full build and tells clients to reload.
func (s *Server) rebuild(ctx context.Context) error {
	s.setStatus(daemon.ServerBuilding)
	result, err := s.compiler.Build(ctx)
	if err != nil {
		s.fail(err)
		return err
	}
	driver := hmr.New(s.compiler, result, s.logger)
	s.mu.Lock()
	s.driver = driver
	s.mu.Unlock()
	s.succeed(driver)
	s.hub.Broadcast(&hmr.Payload{Hash: driver.Hash(), Reload: true})
	return nil
}

func (s *Server) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Status = status
}

func (s *Server) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Status = daemon.ServerFailed
	s.info.LastError = err.Error()
	s.info.LastBuild = time.Now()
	s.logger.Error("build failed", "error", err)
}

func (s *Server) succeed(driver *hmr.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Status = daemon.ServerRunning
	s.info.LastError = ""
	s.info.LastBuild = time.Now()
	s.info.Hash = driver.Hash()
	s.info.Modules = driver.Graph().Len()
	s.info.Chunks = driver.Chunks().Len()
	s.info.Missing = len(driver.Missing())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Info())
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req daemon.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode error: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Paths) == 0 {
		http.Error(w, "paths are required", http.StatusBadRequest)
		return
	}
	s.watcher.Notify(req.Paths...)
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(req.Paths)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	s.mu.RLock()
	stop := s.stop
	s.mu.RUnlock()
	if stop != nil {
		stop()
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
