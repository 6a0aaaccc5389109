// Package server runs the long-lived services of the raid server and stops
// them in reverse order on SIGINT, SIGTERM or the first service failure.
package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running component.
type Service interface {
	// Start runs the service. It blocks until the service stops; a nil
	// return before Stop was called is treated as a normal exit.
	Start(ctx context.Context) error
	// Stop asks the service to stop and waits at most until ctx ends.
	Stop(ctx context.Context) error
}

// FuncService adapts a start/stop function pair to Service. A nil StopFn
// is allowed.
type FuncService struct {
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

// Start calls StartFn.
func (f *FuncService) Start(ctx context.Context) error { return f.StartFn(ctx) }

// Stop calls StopFn when set.
func (f *FuncService) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

// Lifecycle starts services in registration order and stops them in reverse.
type Lifecycle struct {
	logger   *zap.Logger
	timeout  time.Duration
	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle returns a Lifecycle whose shutdown is bounded by
// shutdownTimeout; zero means unbounded.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, shutdownTimeout time.Duration) *Lifecycle {
	return &Lifecycle{logger: logger, timeout: shutdownTimeout}
}

// Add registers a named service.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts every service and blocks until a termination signal, ctx
// cancellation or the first service failure.
//
// Postcondition: every service has been asked to stop; the result joins the
// failure that ended the run, if any, with every stop error.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()
	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(services))
	for _, ns := range services {
		go func() {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}
	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	var failure error
	select {
	case failure = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(failure))
	case <-ctx.Done():
		l.logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))
	}
	cancel()

	stopErr := l.shutdown(services)
	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return errors.Join(failure, stopErr)
}

func (l *Lifecycle) shutdown(services []namedService) error {
	ctx := context.Background()
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	shutdownStart := time.Now()
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))
		if err := ns.service.Stop(ctx); err != nil {
			l.logger.Warn("service stop failed", zap.String("service", ns.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("stopping %s: %w", ns.name, err))
			continue
		}
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(shutdownStart)))
	return errors.Join(errs...)
}
