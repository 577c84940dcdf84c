// Package llm talks to the language model used for memory extraction.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazypower/hypermem/internal/config"
)

// ErrNoProvider is returned by NewClient when no LLM is configured.
var ErrNoProvider = errors.New("no LLM provider configured")

const (
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	defaultOllamaURL      = "http://localhost:11434"
	defaultOllamaModel    = "llama3.2"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response is one completion and what it cost.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient builds the client named by cfg.Provider. An empty provider or
// "none" yields ErrNoProvider so callers can fall back to heuristics.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, ErrNoProvider
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, errors.New("anthropic provider needs an API key (ANTHROPIC_API_KEY or llm.anthropic_key)")
		}
		return NewAnthropic(cfg.AnthropicKey, orDefault(cfg.Model, defaultAnthropicModel)), nil
	case "ollama":
		return NewOllama(orDefault(cfg.OllamaURL, defaultOllamaURL), orDefault(cfg.OllamaModel, defaultOllamaModel)), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
