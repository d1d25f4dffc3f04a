// Package llm exposes the chat-completion capability the engines consume:
// given a message sequence, return text or parsed structured JSON, fallibly.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/civicforge/deliberate/pkg/anthropic"
)

// Message is one turn handed to the model.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Request describes a single completion call.
type Request struct {
	Messages  []Message
	Model     string // empty = gateway default
	MaxTokens int64  // 0 = gateway default
	Phase     string // cost-attribution label for logs
}

// Gateway is the LLM call boundary. Complete returns the raw text of the
// response; CompleteJSON additionally parses it into out, salvaging JSON
// embedded in fenced code blocks before giving up. Both fail on empty content.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteJSON(ctx context.Context, req Request, out any) error
}

// Config tunes the gateway.
type Config struct {
	DefaultModel     string        `yaml:"default_model" mapstructure:"default_model"`
	MaxTokens        int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	CallTimeout      time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	RequestsPerSec   float64       `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	BurstSize        int           `yaml:"burst_size" mapstructure:"burst_size"`
}

type gateway struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
}

// New creates a Gateway backed by an Anthropic client. A zero RequestsPerSec
// disables rate limiting; a zero CallTimeout means no per-call deadline.
func New(client anthropic.Client, cfg Config) Gateway {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	g := &gateway{client: client, cfg: cfg}
	if cfg.RequestsPerSec > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}
	return g
}

func (g *gateway) Complete(ctx context.Context, req Request) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "llm: rate limit wait")
		}
	}

	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = g.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.cfg.MaxTokens
	}

	var system []anthropic.SystemBlock
	var messages []anthropic.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, anthropic.SystemBlock{Text: m.Content})
			continue
		}
		messages = append(messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	if len(messages) == 0 {
		return "", eris.New("llm: request has no user or assistant messages")
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: create message")
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", eris.Errorf("llm: model %s returned empty content", model)
	}

	if req.Phase != "" {
		resp.Usage.LogCost(model, req.Phase)
	}

	return text, nil
}

func (g *gateway) CompleteJSON(ctx context.Context, req Request, out any) error {
	text, err := g.Complete(ctx, req)
	if err != nil {
		return err
	}

	cleaned := CleanJSON(text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		zap.L().Warn("llm: structured response did not parse",
			zap.String("phase", req.Phase),
			zap.Int("response_len", len(text)),
			zap.Error(err),
		)
		return eris.Wrap(err, "llm: parse structured response")
	}
	return nil
}

// CleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// StripHTMLFences removes a leading ```html fence and trailing ``` from a
// response that was asked for raw HTML.
func StripHTMLFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```html")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
