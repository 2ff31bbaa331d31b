// Package app assembles the bridge runtime: configuration, tracing, the
// native engine behind its lifecycle, and the advisor facade. Every entry
// point (TUI, single-shot commands, MCP server) initializes through here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/amanahlabs/fiqhbridge/internal/advisor"
	"github.com/amanahlabs/fiqhbridge/internal/config"
	"github.com/amanahlabs/fiqhbridge/internal/engine"
	"github.com/amanahlabs/fiqhbridge/internal/fallback"
	"github.com/amanahlabs/fiqhbridge/internal/history"
	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/observability"
)

// App is the assembled runtime.
//
// The lifecycle owns the engine handle; the advisor is the only query surface
// callers should use. History is a read view over the local analysis log and
// is nil when no storage path is configured.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	Lifecycle *lifecycle.Lifecycle
	Advisor   *advisor.Advisor
	History   *history.Store

	shutdownTracing func(context.Context) error
}

// Setup initializes the runtime and attempts engine initialization.
//
// A failed engine init is not a setup error: the lifecycle lands in a degraded
// state and the advisor answers from the offline generator. Setup only fails
// on configuration errors a user must fix.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	eng := engine.New(logger)
	lc := lifecycle.New(eng, logger, lifecycle.Options{
		InitTimeout:  cfg.InitTimeout(),
		PollInterval: cfg.PollInterval(),
	})

	// Engine init failures (bad credentials, unreachable backends) are not
	// setup errors: the lifecycle records the cause and the advisor answers
	// from the offline generator until a restart succeeds.
	state, err := lc.Initialize(ctx, cfg.ToNative())
	switch {
	case err != nil:
		logger.Warn("advisory engine unavailable, answering offline",
			"state", lc.State(), "cause", err)
	case state == lifecycle.StateReady:
		logger.Info("advisory engine ready", "provider", cfg.PreferredProvider)
	default:
		logger.Warn("advisory engine unavailable, answering offline",
			"state", state, "cause", lc.FailureCause())
	}

	adapter := native.NewAdapter(eng, logger, cfg.PollInterval())
	adv := advisor.New(lc, adapter, fallback.New(), logger, advisor.Options{
		CallTimeout: cfg.CallTimeout(),
	})

	var hist *history.Store
	if cfg.StoragePath != "" {
		hist, err = history.Open(cfg.StoragePath)
		if err != nil {
			logger.Warn("history unavailable", "path", cfg.StoragePath, "error", err)
			hist = nil
		}
	}

	return &App{
		Config:          cfg,
		Logger:          logger,
		Lifecycle:       lc,
		Advisor:         adv,
		History:         hist,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close tears the engine down and flushes pending traces.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Lifecycle != nil {
		a.Lifecycle.Teardown()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	return errors.Join(errs...)
}
