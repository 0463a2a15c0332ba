package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/observe"
	"github.com/mrwong99/gglib/internal/ports"
)

// stopGrace bounds how long Stop waits for the server's Shutdown to
// finish, and then for the serve goroutine to return, before it force-closes
// the server with Close.
const stopGrace = 5 * time.Second

// Status reports what a Supervisor is currently doing.
type Status int

const (
	// StatusStopped means no proxy is bound.
	StatusStopped Status = iota
	// StatusRunning means the proxy is bound and serving.
	StatusRunning
	// StatusCrashed means the serve goroutine exited on its own, without
	// a Stop call — the listener or the HTTP server failed unexpectedly.
	StatusCrashed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCrashed:
		return "crashed"
	default:
		return "stopped"
	}
}

// run tracks one bound proxy instance: the listener's real address, the
// *http.Server whose Shutdown triggers a clean stop, and a channel closed
// once the serve goroutine has returned.
type run struct {
	addr     net.Addr
	done     chan struct{}
	server   *http.Server
	crashed  bool
	instance string
}

// Supervisor owns the bind-then-report lifecycle of the model-swapping
// proxy: Start binds a listener and reports its real address before the
// server goroutine is even spawned, and Status distinguishes a clean Stop
// from the serve goroutine exiting on its own.
//
// A Supervisor is safe for concurrent use; only one proxy may be bound at
// a time.
type Supervisor struct {
	mu      sync.Mutex
	current *run
}

// NewSupervisor returns a stopped Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Start binds host:port (port 0 auto-assigns), then spawns the HTTP
// server behind a Handler wired to runtime and catalog. The returned
// address is the listener's real bound address, always reported after a
// successful bind and before the caller can observe any request traffic.
// Starting a Supervisor that is already running returns KindAlreadyRunning.
// A nil metrics disables request/error instrumentation.
func (s *Supervisor) Start(host string, port int, defaultCtx int, runtime ports.ModelRuntime, catalog ports.ModelCatalog, client *http.Client, metrics *observe.Metrics) (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.finished(s.current) {
		return nil, domain.NewError(domain.KindAlreadyRunning, fmt.Sprintf("proxy is already running on %s", s.current.addr))
	}

	bindAddr := fmt.Sprintf("%s:%d", host, port)
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, domain.WrapError(domain.KindSpawnFailed, fmt.Sprintf("bind to %s", bindAddr), err)
	}
	addr := listener.Addr()

	handler := New(runtime, catalog, defaultCtx, client)
	server := &http.Server{Handler: instrument(metrics, handler.Mux())}

	instance := uuid.New().String()
	done := make(chan struct{})

	slog.Info("proxy: bound", "addr", addr, "instance", instance)

	r := &run{addr: addr, done: done, server: server, instance: instance}
	s.current = r

	go func() {
		defer close(done)
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("proxy: serve exited unexpectedly", "instance", instance, "error", err)
			s.mu.Lock()
			if s.current == r {
				r.crashed = true
			}
			s.mu.Unlock()
		}
	}()

	return addr, nil
}

// finished reports whether r's serve goroutine has already returned.
func (s *Supervisor) finished(r *run) bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Stop gracefully shuts down the running proxy, waiting up to stopGrace
// for in-flight requests to drain before forcing the listener closed.
// Stopping a Supervisor that is not running returns KindNotFound.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	if r == nil {
		s.mu.Unlock()
		return domain.NewError(domain.KindNotFound, "proxy is not running")
	}
	s.current = nil
	s.mu.Unlock()

	slog.Info("proxy: stopping", "addr", r.addr, "instance", r.instance)

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, stopGrace)
	defer shutdownCancel()

	shutdownErr := r.server.Shutdown(shutdownCtx)

	select {
	case <-r.done:
	case <-time.After(stopGrace):
		slog.Warn("proxy: stop timed out; forcing close", "instance", r.instance)
		_ = r.server.Close()
		<-r.done
	}

	if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
		return domain.WrapError(domain.KindInternal, "proxy shutdown", shutdownErr)
	}
	slog.Info("proxy: stopped cleanly", "instance", r.instance)
	return nil
}

// Status reports the Supervisor's current lifecycle state, consuming the
// "crashed but not yet observed" state on the first call that sees it —
// mirroring the teacher's own cancellation-token-based crash detection.
func (s *Supervisor) Status() (Status, net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current
	if r == nil {
		return StatusStopped, nil
	}
	if !s.finished(r) {
		return StatusRunning, r.addr
	}

	s.current = nil
	if r.crashed {
		return StatusCrashed, nil
	}
	return StatusStopped, nil
}

// BoundAddress returns the proxy's address if it is currently running.
func (s *Supervisor) BoundAddress() (net.Addr, bool) {
	status, addr := s.Status()
	return addr, status == StatusRunning
}
