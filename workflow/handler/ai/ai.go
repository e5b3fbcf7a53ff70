// Package ai implements the "ai.generate" node type: text generation through
// a pluggable LLM provider (Anthropic, OpenAI, Google).
package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowmatic/engine/workflow/handler"
)

// Provider abstracts an LLM backend behind a single text-generation call.
//
// Implementations translate to the provider's SDK, respect context
// cancellation, and return the generated text verbatim.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai", "google").
	Name() string

	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Handler implements the "ai.generate" node type over one or more providers.
//
// Config keys:
//   - provider: which registered provider to use (required when more than one
//     is registered)
//   - prompt: instruction text (required)
//
// The node's resolved input, when present, is appended to the prompt as JSON
// so upstream data flows into the generation.
//
// Output data:
//   - text: the generated completion
//   - provider: the provider that produced it
type Handler struct {
	providers map[string]Provider
}

// NewHandler creates an ai.generate handler over the given providers.
func NewHandler(providers ...Provider) *Handler {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Handler{providers: m}
}

// Execute implements handler.Handler.
func (h *Handler) Execute(ctx context.Context, req handler.Request) (handler.Result, error) {
	prompt, _ := req.Config["prompt"].(string)
	if prompt == "" {
		return handler.Result{}, fmt.Errorf("ai.generate: prompt is required")
	}

	provider, err := h.pick(req.Config)
	if err != nil {
		return handler.Result{}, err
	}

	if req.Input != nil {
		data, err := json.Marshal(req.Input)
		if err != nil {
			return handler.Result{}, fmt.Errorf("ai.generate: encode input: %w", err)
		}
		prompt = prompt + "\n\nInput:\n" + string(data)
	}

	text, err := provider.Generate(ctx, prompt)
	if err != nil {
		return handler.Result{}, fmt.Errorf("ai.generate: %s: %w", provider.Name(), err)
	}

	return handler.Result{
		Data: map[string]any{
			"text":     text,
			"provider": provider.Name(),
		},
	}, nil
}

func (h *Handler) pick(config map[string]any) (Provider, error) {
	if len(h.providers) == 0 {
		return nil, fmt.Errorf("ai.generate: no providers configured")
	}
	if name, ok := config["provider"].(string); ok && name != "" {
		p, ok := h.providers[name]
		if !ok {
			return nil, fmt.Errorf("ai.generate: unknown provider %q", name)
		}
		return p, nil
	}
	if len(h.providers) == 1 {
		for _, p := range h.providers {
			return p, nil
		}
	}
	return nil, fmt.Errorf("ai.generate: provider config key required when multiple providers are registered")
}
