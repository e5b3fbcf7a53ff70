package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/flowmatic/engine/workflow/handler"
)

type fakeProvider struct {
	name    string
	prompts []string
	reply   string
	err     error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestHandlerGenerate(t *testing.T) {
	p := &fakeProvider{name: "anthropic", reply: "summary text"}
	h := NewHandler(p)

	result, err := h.Execute(context.Background(), handler.Request{
		NodeType: "ai.generate",
		Config:   map[string]any{"prompt": "Summarize the document"},
		Input:    map[string]any{"doc": "invoice #42"},
	})
	if err != nil {
		t.Fatal(err)
	}

	data, _ := result.Data.(map[string]any)
	if data["text"] != "summary text" {
		t.Errorf("text = %v", data["text"])
	}
	if data["provider"] != "anthropic" {
		t.Errorf("provider = %v", data["provider"])
	}

	if len(p.prompts) != 1 {
		t.Fatalf("provider invoked %d times", len(p.prompts))
	}
	if !strings.Contains(p.prompts[0], "Summarize the document") {
		t.Errorf("prompt missing instruction: %q", p.prompts[0])
	}
	if !strings.Contains(p.prompts[0], `"invoice #42"`) {
		t.Errorf("prompt missing input JSON: %q", p.prompts[0])
	}
}

func TestHandlerProviderSelection(t *testing.T) {
	a := &fakeProvider{name: "anthropic", reply: "from anthropic"}
	o := &fakeProvider{name: "openai", reply: "from openai"}
	h := NewHandler(a, o)

	t.Run("explicit provider", func(t *testing.T) {
		result, err := h.Execute(context.Background(), handler.Request{
			Config: map[string]any{"prompt": "hi", "provider": "openai"},
		})
		if err != nil {
			t.Fatal(err)
		}
		data, _ := result.Data.(map[string]any)
		if data["text"] != "from openai" {
			t.Errorf("text = %v", data["text"])
		}
	})

	t.Run("ambiguous without provider config", func(t *testing.T) {
		if _, err := h.Execute(context.Background(), handler.Request{
			Config: map[string]any{"prompt": "hi"},
		}); err == nil {
			t.Error("expected error when several providers are registered")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		if _, err := h.Execute(context.Background(), handler.Request{
			Config: map[string]any{"prompt": "hi", "provider": "ghost"},
		}); err == nil {
			t.Error("expected error for unregistered provider")
		}
	})
}

func TestHandlerPromptRequired(t *testing.T) {
	h := NewHandler(&fakeProvider{name: "anthropic"})
	if _, err := h.Execute(context.Background(), handler.Request{Config: map[string]any{}}); err == nil {
		t.Error("expected error for missing prompt")
	}
}

func TestHandlerSingleProviderDefault(t *testing.T) {
	p := &fakeProvider{name: "google", reply: "ok"}
	h := NewHandler(p)

	result, err := h.Execute(context.Background(), handler.Request{
		Config: map[string]any{"prompt": "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := result.Data.(map[string]any)
	if data["provider"] != "google" {
		t.Errorf("provider = %v", data["provider"])
	}
}
