// Package engine implements the deliberation pipeline: extracting problem
// and solution statements from citizen input, linking them to sharp
// questions, synthesizing new questions, and generating documents from the
// linked evidence.
package engine

import (
	"context"

	"github.com/civicforge/deliberate/internal/config"
	"github.com/civicforge/deliberate/internal/llm"
	"github.com/civicforge/deliberate/internal/notify"
	"github.com/civicforge/deliberate/internal/store"
)

// Engine coordinates the pipeline stages. All stages share one store, one
// LLM gateway and one notifier; follow-up work (linking after extraction,
// linking after synthesis) is spawned through the spawn hook so callers
// control whether it runs inline or detached.
type Engine struct {
	store  store.Store
	llm    llm.Gateway
	notify notify.Notifier
	cfg    config.EngineConfig

	// spawn runs follow-up work. The server wires this to a task runner;
	// tests run it inline.
	spawn func(name string, fn func(ctx context.Context) error)
}

// request assembles a gateway request for one pipeline phase. An empty
// system prompt is omitted.
func (e *Engine) request(phase, system, user string) llm.Request {
	var messages []llm.Message
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: user})
	return llm.Request{Messages: messages, Phase: phase}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSpawner replaces the default inline spawner. fn is expected to run the
// task on its own goroutine with its own context.
func WithSpawner(spawn func(name string, fn func(ctx context.Context) error)) Option {
	return func(e *Engine) { e.spawn = spawn }
}

// WithNotifier sets the progress event sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

// New creates an Engine. Zero config fields fall back to defaults
// (concurrency 10, six questions per synthesis, Japanese output).
func New(st store.Store, gw llm.Gateway, cfg config.EngineConfig, opts ...Option) *Engine {
	if cfg.LinkConcurrency <= 0 {
		cfg.LinkConcurrency = 10
	}
	if cfg.QuestionBatchSize <= 0 {
		cfg.QuestionBatchSize = 6
	}
	if cfg.Language == "" {
		cfg.Language = "Japanese"
	}
	e := &Engine{
		store:  st,
		llm:    gw,
		notify: notify.Noop{},
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.spawn == nil {
		e.spawn = func(name string, fn func(ctx context.Context) error) {
			_ = fn(context.Background())
		}
	}
	return e
}
