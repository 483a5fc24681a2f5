package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-2.5-flash"

type GeminiService struct {
	client *genai.Client
	model  string
}

// NewGeminiService creates a client bound to one API key. Extra options are
// passed to the SDK client.
func NewGeminiService(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiService, error) {
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiService{client: client, model: model}, nil
}

func (g *GeminiService) Name() string {
	return "gemini"
}

// Generate sends a single-turn prompt and joins the text parts of the first
// candidate.
func (g *GeminiService) Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.2)
	if jsonOutput {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return sb.String(), nil
}

func (g *GeminiService) Close() error {
	return g.client.Close()
}
