package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalGate/pkg/logger"
)

// Component is a long-running part of the process. Start must not block.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Closer releases a resource once every component has stopped.
type Closer struct {
	Name  string
	Close func() error
}

// FromCloser adapts an io.Closer.
func FromCloser(name string, c io.Closer) Closer {
	return Closer{Name: name, Close: c.Close}
}

// App starts components in order, waits for a signal or a fatal error, then
// stops them in reverse order and runs the closers.
type App struct {
	log             *logger.Logger
	shutdownTimeout time.Duration
	components      []Component
	closers         []Closer
	fatal           []<-chan error
}

type Option func(*App)

func WithShutdownTimeout(d time.Duration) Option { return func(a *App) { a.shutdownTimeout = d } }

func WithComponents(cs ...Component) Option {
	return func(a *App) { a.components = append(a.components, cs...) }
}

func WithClosers(cs ...Closer) Option { return func(a *App) { a.closers = append(a.closers, cs...) } }

// WithFatal adds a channel whose first error triggers shutdown.
func WithFatal(ch <-chan error) Option { return func(a *App) { a.fatal = append(a.fatal, ch) } }

func New(log *logger.Logger, opts ...Option) *App {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{log: log.With(logger.String("component", "app")), shutdownTimeout: 15 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run blocks until SIGINT, SIGTERM, ctx cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started, err := a.start(ctx)
	if err != nil {
		a.log.Error("startup failed", logger.Error(err))
		return errors.Join(err, a.shutdown(started))
	}

	var cause error
	fatal := a.mergeFatal(ctx)
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case cause = <-fatal:
		a.log.Error("fatal component error", logger.Error(cause))
	}
	return errors.Join(cause, a.shutdown(started))
}

func (a *App) start(ctx context.Context) (int, error) {
	for i, c := range a.components {
		if c.Start == nil {
			continue
		}
		if err := c.Start(ctx); err != nil {
			return i, fmt.Errorf("start %s: %w", c.Name, err)
		}
		a.log.Info("component started", logger.String("name", c.Name))
	}
	return len(a.components), nil
}

// shutdown stops the first n components in reverse, then runs every closer.
func (a *App) shutdown(n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := n - 1; i >= 0; i-- {
		c := a.components[i]
		if c.Stop == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			a.log.Warn("component stop failed", logger.String("name", c.Name), logger.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name, err))
			continue
		}
		a.log.Info("component stopped", logger.String("name", c.Name))
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", logger.String("name", c.Name), logger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) mergeFatal(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	for _, ch := range a.fatal {
		go func(ch <-chan error) {
			select {
			case err := <-ch:
				select {
				case out <- err:
				default:
				}
			case <-ctx.Done():
			}
		}(ch)
	}
	return out
}
