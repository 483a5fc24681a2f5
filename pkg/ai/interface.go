package ai

import "context"

// EmailInput is the part of a message the model is allowed to see.
type EmailInput struct {
	Subject        string
	From           string
	Body           string
	AttachmentText string
}

// Classification is the model's answer before it is validated against the
// category enum.
type Classification struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
	Rationale  string   `json:"rationale"`
}

// Service is what the rest of the application asks of a language model.
// Implement Generator to add a new provider.
type Service interface {
	ClassifyEmail(ctx context.Context, email EmailInput) (*Classification, error)
	DraftReply(ctx context.Context, email EmailInput, instructions string) (string, error)
}

// Generator is a single text completion provider.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
	ProviderNone   ProviderType = "none"
)
