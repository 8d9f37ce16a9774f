package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/config"
	"github.com/rendis/flowarch/internal/diagnostics"
	"github.com/rendis/flowarch/internal/expressions"
	"github.com/rendis/flowarch/internal/llm"
	"github.com/rendis/flowarch/internal/llm/llmtest"
	"github.com/rendis/flowarch/internal/logging"
	"github.com/rendis/flowarch/internal/observability"
	"github.com/rendis/flowarch/internal/scheduler"
	"github.com/rendis/flowarch/internal/session"
	"github.com/rendis/flowarch/internal/store"
	"github.com/rendis/flowarch/internal/streaming"
)

// offlineReply answers every message when no remote model is configured.
const offlineReply = "I am running offline, so I cannot draw for you right now. " +
	"Set GEMINI_API_KEY (or model.api_key) and restart, or use the dot-commands to edit the canvas."

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Loaded
	logger    *slog.Logger
	session   *session.Session
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	autosave  *scheduler.Scheduler
	telemetry func(context.Context) error
}

// appOptions tweak wiring per command.
type appOptions struct {
	// logOut receives log output; stdio commands keep stdout clean.
	logOut io.Writer
	// autosave starts the periodic save scheduler.
	autosave bool
	// model overrides the configured provider.
	model agent.Model
}

func newApp(ctx context.Context, cfg *config.Loaded, opts appOptions) (_ *app, err error) {
	if opts.logOut == nil {
		opts.logOut = os.Stderr
	}
	a := &app{
		cfg:    cfg,
		logger: logging.New(opts.logOut, cfg.Log.Level, cfg.Log.Format),
		hub:    streaming.NewMemoryHub(),
	}
	defer func() {
		if err != nil {
			// Never persist a session that failed to restore.
			a.session, a.autosave = nil, nil
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.telemetry, err = observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	model := opts.model
	if model == nil {
		if model, err = a.newModel(ctx); err != nil {
			return nil, err
		}
	}

	deps := session.Deps{
		Model:   model,
		Hub:     a.hub,
		Logger:  a.logger,
		Metrics: observability.NewMetrics(),
	}

	if cfg.Checks.Enabled {
		checkOpts := []diagnostics.Option{
			diagnostics.WithLogger(a.logger),
			diagnostics.WithIsolatedNodes(cfg.Checks.IsolatedNodes),
		}
		if len(cfg.Checks.Rules) > 0 {
			checkOpts = append(checkOpts, diagnostics.WithRules(expressions.NewExprEngine(), cfg.Checks.Rules...))
		}
		deps.Checker = diagnostics.NewChecker(checkOpts...)
	}

	guards, err := cfg.GuardRules()
	if err != nil {
		return nil, err
	}
	if len(guards) > 0 {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, fmt.Errorf("guards: %w", err)
		}
		deps.Guard = cel
		deps.GuardRules = guards
	}

	if cfg.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", filepath.Dir(cfg.Store.Path), err)
		}
		a.store, err = store.NewLibSQLStore("file:" + cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := a.store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		deps.Store = a.store
	}

	a.session, err = session.New(session.Config{
		ID:                cfg.Session.ID,
		Title:             cfg.Session.Title,
		MaxRounds:         cfg.Agent.MaxRounds,
		MaxHistoryTurns:   cfg.Agent.MaxHistoryTurns,
		SnapshotRetention: cfg.Store.SnapshotRetention,
	}, deps)
	if err != nil {
		return nil, err
	}
	if err := a.session.Restore(ctx); err != nil {
		return nil, err
	}

	if opts.autosave && a.store != nil && cfg.Store.Autosave != "" {
		a.autosave, err = scheduler.NewScheduler(a.session, cfg.Store.Autosave, a.logger)
		if err != nil {
			return nil, fmt.Errorf("autosave: %w", err)
		}
		if err := a.autosave.Start(ctx); err != nil {
			return nil, fmt.Errorf("autosave: %w", err)
		}
	}

	a.logger.DebugContext(ctx, "flowarch ready",
		slog.String("session", a.session.ID()),
		slog.String("provider", cfg.Model.Provider),
		slog.String("config", cfg.File),
		slog.Bool("persistent", a.store != nil),
	)
	return a, nil
}

func (a *app) newModel(ctx context.Context) (agent.Model, error) {
	if a.cfg.Model.Provider == config.ProviderOffline {
		return offlineModel(), nil
	}
	gemini, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey: a.cfg.Model.APIKey,
		Model:  a.cfg.Model.Name,
	})
	if err != nil {
		return nil, err
	}
	guarded := llm.NewGuarded(gemini, a.cfg.Model.Timeout, llm.NewBreaker(a.cfg.LLMBreaker()), a.logger)
	return llm.NewRetrying(guarded, a.cfg.LLMRetry(), a.logger), nil
}

func offlineModel() agent.Model {
	m := llmtest.New()
	m.Fallback = func(agent.Request) (*agent.Reply, error) {
		return &agent.Reply{Parts: []agent.Part{{Text: offlineReply}}}, nil
	}
	return m
}

// Close stops autosave (which saves once more), closes the store and
// flushes telemetry.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.autosave != nil {
		errs = append(errs, a.autosave.Stop(ctx))
	} else if a.session != nil && a.store != nil && a.session.Dirty() {
		errs = append(errs, a.session.Save(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.WarnContext(ctx, "shutdown incomplete", slog.String("error", err.Error()))
	}
}
