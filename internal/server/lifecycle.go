// Package server implements the network-facing half of the lobby protocol:
// the TCP acceptor, per-connection session loops, request dispatch, and
// application lifecycle management.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Service is a long-running component of a server binary. Start blocks until
// the service exits; Stop asks it to.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }
func (f *FuncService) Stop()        { f.StopFn() }

// Lifecycle runs a binary's services: started in registration order, stopped
// in reverse when a termination signal arrives, a service fails, or the
// context is cancelled. All Add calls must complete before Run.
type Lifecycle struct {
	logger   *zap.Logger
	names    []string
	services []Service
}

// NewLifecycle creates an empty Lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a named service. Services start in the order they are added.
func (l *Lifecycle) Add(name string, svc Service) {
	l.names = append(l.names, name)
	l.services = append(l.services, svc)
}

// Run starts every service and blocks until SIGINT/SIGTERM, a service
// failure, or context cancellation, then stops the services in reverse order.
//
// Postcondition: All services are stopped when this method returns.
func (l *Lifecycle) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered per service so a late failure never blocks its goroutine
	// after shutdown has begun.
	errCh := make(chan error, len(l.services))
	for i := range l.services {
		name, svc := l.names[i], l.services[i]
		go func() {
			l.logger.Info("starting service", zap.String("service", name))
			if err := svc.Start(); err != nil {
				errCh <- fmt.Errorf("service %s: %w", name, err)
				cancel()
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down",
			zap.String("signal", sig.String()))
	case err := <-errCh:
		l.logger.Error("service failed, shutting down", zap.Error(err))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	for i := len(l.services) - 1; i >= 0; i-- {
		l.logger.Info("stopping service", zap.String("service", l.names[i]))
		l.services[i].Stop()
	}
	l.logger.Info("shutdown complete")
	return nil
}
