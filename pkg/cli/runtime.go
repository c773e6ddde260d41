package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/dlqmanager/pkg/audit"
	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/backend/factory"
	"github.com/nimburion/dlqmanager/pkg/config"
	"github.com/nimburion/dlqmanager/pkg/health"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/observability/metrics"
	"github.com/nimburion/dlqmanager/pkg/observability/tracing"
	"github.com/nimburion/dlqmanager/pkg/remediation"
	"github.com/nimburion/dlqmanager/pkg/version"
)

const healthCheckTimeout = 5 * time.Second

// runtime holds the components shared by every command that talks to a backend.
type runtime struct {
	cfg     *config.Config
	log     logger.Logger
	backend backend.Backend
	journal *audit.DynamoJournal
	metrics *metrics.Registry
	tracer  *tracing.TracerProvider
}

func newRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, newBackend BackendFactory) (*runtime, error) {
	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	b, err := newBackend(cfg.Backend, log)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("create %s backend: %w", cfg.Backend.Type, err)
	}

	journal, err := factory.NewJournal(cfg, log)
	if err != nil {
		_ = b.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("create audit journal: %w", err)
	}

	return &runtime{
		cfg:     cfg,
		log:     log,
		backend: b,
		journal: journal,
		metrics: metrics.NewRegistry(),
		tracer:  tracer,
	}, nil
}

// controllerOptions wires metrics and audit into a controller.
func (r *runtime) controllerOptions(log logger.Logger) []remediation.Option {
	opts := []remediation.Option{
		remediation.WithLogger(log),
		remediation.WithObserver(r.metrics.Remediation()),
	}
	if r.journal != nil {
		opts = append(opts, remediation.WithJournal(r.journal))
	}
	return opts
}

func (r *runtime) newSession(log logger.Logger) *remediation.Session {
	return remediation.NewSession(r.backend, remediation.SessionConfig{
		RefreshAfterAction: r.cfg.Remediation.RefreshAfterAction,
		Logger:             log,
		Options:            r.controllerOptions(log),
	})
}

func (r *runtime) healthRegistry(inFlight func() bool) *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewAdapterChecker("backend", r.backend, healthCheckTimeout))
	if r.journal != nil {
		registry.Register(health.NewAdapterChecker("audit", r.journal, healthCheckTimeout))
	}
	if inFlight != nil {
		registry.Register(health.NewActivityChecker("remediation", inFlight))
	}
	return registry
}

func (r *runtime) actionContext(parent context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Remediation.ActionTimeout > 0 {
		return context.WithTimeout(parent, r.cfg.Remediation.ActionTimeout)
	}
	return context.WithCancel(parent)
}

func (r *runtime) Close(ctx context.Context) error {
	var errs []error
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit journal: %w", err))
		}
	}
	if err := r.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	if err := r.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
