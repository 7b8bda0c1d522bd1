// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package introspection provides a debug variable registry and HTTP server
// for exposing controller internal state.
//
// It is inspired by the standard library's expvar package, but the registry
// is instance-based rather than global so it can be garbage collected with
// the application lifecycle it belongs to. The leadership controller
// publishes its topic table and recent leadership events here.
//
// Endpoints:
//   - GET /debug/vars          - list registered variable paths
//   - GET /debug/vars/{path}   - current value of one variable as JSON
//   - GET /health              - health check
//   - GET /debug/pprof/*       - Go profiling endpoints
package introspection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	//nolint:gosec // G108: pprof intentionally exposed for debugging
	_ "net/http/pprof" // Register pprof handlers
)

// Var represents a debug variable that can be queried for its current
// value. The returned value must be JSON-serializable, and Get must be
// thread-safe.
type Var interface {
	Get() (interface{}, error)
}

// Func adapts a function to the Var interface.
type Func func() (interface{}, error)

// Get implements Var.
func (f Func) Get() (interface{}, error) { return f() }

// Registry manages a collection of debug variables. It is thread-safe.
type Registry struct {
	mu   sync.RWMutex
	vars map[string]Var
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{vars: make(map[string]Var)}
}

// Publish registers a variable at the given path, replacing any existing
// variable there.
func (r *Registry) Publish(path string, v Var) {
	if path == "" {
		panic("introspection: empty path not allowed")
	}
	if v == nil {
		panic("introspection: nil Var not allowed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.vars[path] = v
}

// Get retrieves the current value of the variable at path.
func (r *Registry) Get(path string) (interface{}, error) {
	r.mu.RLock()
	v, ok := r.vars[path]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no variable registered at %q", path)
	}
	return v.Get()
}

// Paths returns the registered variable paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.vars))
	for path := range r.vars {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Server serves debug variables over HTTP. It is designed to run in a
// goroutine and shuts down gracefully when its context is cancelled.
type Server struct {
	addr     string
	registry *Registry
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new HTTP server for the given registry.
//
// Example:
//
//	registry := introspection.NewRegistry()
//	registry.Publish("leadership", introspection.Func(leadershipTable))
//	server := introspection.NewServer(":6060", registry)
//	go server.Start(ctx)
func NewServer(addr string, registry *Registry) *Server {
	s := &Server{
		addr:     addr,
		registry: registry,
		logger:   slog.Default().With("component", "introspection-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/vars", s.handleList)
	mux.HandleFunc("/debug/vars/", s.handleVar)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info("Starting introspection server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		s.logger.Info("Introspection server stopped")
		return nil
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{"paths": s.registry.Paths()})
}

func (s *Server) handleVar(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/debug/vars/")
	if path == "" {
		s.handleList(w, r)
		return
	}

	value, err := s.registry.Get(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, value)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		s.logger.Warn("Failed to encode debug variable", "error", err)
	}
}
