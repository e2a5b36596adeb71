package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "CryptoAlert/pkg/http"
	applogger "CryptoAlert/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Component is a background part of the application with its own lifecycle.
// Start must not block; Stop must return once the component is quiescent.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	logger          *applogger.Logger
	httpServer      *xhttp.Server
	components      []Component
	closers         []closer
	shutdownTimeout time.Duration
}

// New creates an App. Components start in the given order and stop in reverse.
func New(l *applogger.Logger, httpServer *xhttp.Server, shutdownTimeout time.Duration, components ...Component) *App {
	if l == nil {
		l = applogger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{
		logger:          l,
		httpServer:      httpServer,
		components:      components,
		shutdownTimeout: shutdownTimeout,
	}
}

// AddCloser registers a resource released after every component stopped.
// Closers run in reverse registration order.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the application and blocks until ctx ends, SIGINT/SIGTERM
// arrives, or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := make([]Component, 0, len(a.components))
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			a.logger.Error("component start failed", applogger.String("component", c.Name()), applogger.Error(err))
			_ = a.shutdown(started)
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		a.logger.Info("component started", applogger.String("component", c.Name()))
		started = append(started, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.httpServer != nil {
		g.Go(a.httpServer.ListenAndServe)
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		return a.shutdown(started)
	})
	return g.Wait()
}

func (a *App) shutdown(started []Component) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if err := c.Stop(ctx); err != nil {
			a.logger.Warn("component stop error", applogger.String("component", c.Name()), applogger.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		cl := a.closers[i]
		if err := cl.fn(); err != nil {
			a.logger.Warn("close error", applogger.String("resource", cl.name), applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
