package graceful

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/cap5/settlement_service/pkg/logger"
)

const DefaultTimeout = 30 * time.Second

type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ShutdownFunc adapts a function to Shutdowner
type ShutdownFunc func(ctx context.Context) error

func (f ShutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }

type namedShutdowner struct {
	name string
	s    Shutdowner
}

type namedCloser struct {
	name string
	c    io.Closer
}

// ShutdownManager stops the HTTP server, then registered components in
// registration order, then closes storage handles.
type ShutdownManager struct {
	server      *http.Server
	shutdowners []namedShutdowner
	closers     []namedCloser
	timeout     time.Duration
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:  server,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// WithTimeout overrides the overall shutdown deadline
func (sm *ShutdownManager) WithTimeout(timeout time.Duration) *ShutdownManager {
	if timeout > 0 {
		sm.timeout = timeout
	}
	return sm
}

func (sm *ShutdownManager) Register(name string, s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, namedShutdowner{name: name, s: s})
}

// RegisterCloser adds a handle closed after all components have stopped
func (sm *ShutdownManager) RegisterCloser(name string, c io.Closer) {
	sm.closers = append(sm.closers, namedCloser{name: name, c: c})
}

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		sm.logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	sm.logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	err := sm.Shutdown(shutdownCtx)
	if err != nil {
		sm.logger.Error("Shutdown finished with errors", "error", err)
	} else {
		sm.logger.Info("Shutdown complete")
	}
	return err
}

// Shutdown runs every stage and returns all errors combined
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	var errs error

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
			errs = multierr.Append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	for _, s := range sm.shutdowners {
		if err := s.s.Shutdown(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "component", s.name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	for _, c := range sm.closers {
		if err := c.c.Close(); err != nil {
			sm.logger.Warn("Close error", "component", c.name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}

	return errs
}
