package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicforge/deliberate/internal/engine"
	"github.com/civicforge/deliberate/internal/llm"
	"github.com/civicforge/deliberate/internal/notify"
	"github.com/civicforge/deliberate/internal/store"
	"github.com/civicforge/deliberate/internal/tasks"
	"github.com/civicforge/deliberate/pkg/anthropic"
)

// appEnv bundles the wired application components for a command invocation.
type appEnv struct {
	Store  store.Store
	Engine *engine.Engine
	Hub    *notify.Hub
	Runner *tasks.Runner
}

// taskTimeout bounds a single background job: one extraction, one linking
// sweep, or one document generation.
const taskTimeout = 10 * time.Minute

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres", "":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
}

// initEnv opens the store, runs migrations, and wires the engine with a task
// runner for background fan-out and a hub for event subscribers.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	gateway := llm.New(anthropic.NewClient(cfg.Anthropic.APIKey), cfg.LLM)
	hub := notify.NewHub()
	runner := tasks.NewRunner(ctx, taskTimeout)
	eng := engine.New(st, gateway, cfg.Engine,
		engine.WithNotifier(hub),
		engine.WithSpawner(runner.Go),
	)

	return &appEnv{Store: st, Engine: eng, Hub: hub, Runner: runner}, nil
}

// Close drains in-flight background tasks, then closes the store.
func (env *appEnv) Close() {
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := env.Runner.Wait(drainCtx); err != nil {
		zap.L().Warn("background tasks not drained", zap.Error(err))
	}
	if err := env.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
