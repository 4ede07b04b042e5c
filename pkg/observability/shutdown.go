package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops HTTP servers first, then runs registered closers
// concurrently (database pools, Redis, telemetry, schedulers).
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	funcs   []namedShutdown
	timeout time.Duration
	mu      sync.Mutex
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = NewLogger(InfoLevel, os.Stderr)
	}
	return &ShutdownManager{
		logger:  logger,
		servers: servers,
		timeout: timeout,
	}
}

// Register adds a named closer. Nil functions are ignored.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.WithField("signal", sig.String()).Info("Received signal, starting graceful shutdown")
	case <-ctx.Done():
		sm.logger.Info("Context canceled, starting graceful shutdown")
	}

	return sm.Shutdown(context.Background())
}

// Shutdown runs the shutdown sequence within the manager timeout
func (sm *ShutdownManager) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, sm.timeout)
	defer cancel()

	var errs []error
	for _, srv := range sm.servers {
		if err := srv.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("server %s: %w", srv.Addr, err))
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdown(nil), sm.funcs...)
	sm.mu.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(funcs))
	for _, f := range funcs {
		wg.Add(1)
		go func(f namedShutdown) {
			defer wg.Done()
			if err := f.fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("component", f.name).Error("Shutdown step failed")
				errChan <- fmt.Errorf("%s: %w", f.name, err)
				return
			}
			sm.logger.WithField("component", f.name).Debug("Shutdown step complete")
		}(f)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return errors.Join(append(errs, fmt.Errorf("shutdown timeout reached"))...)
	}

	close(errChan)
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
