package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleProvider generates text through the Gemini API.
type GoogleProvider struct {
	client *genai.Client
	model  string
}

// NewGoogleProvider creates a Google provider. The client holds a connection
// and should be closed via Close when the process shuts down.
//
// model selects the Gemini model; an empty string uses a sensible default.
func NewGoogleProvider(ctx context.Context, apiKey, model string) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleProvider{client: client, model: model}, nil
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// Generate implements Provider.
func (p *GoogleProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	model := p.client.GenerativeModel(p.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("google: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

// Close releases the underlying API client.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}
