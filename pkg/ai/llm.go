package ai

import (
	"context"
	"fmt"
	"strings"
)

// llmService turns prompts into typed answers over any Generator.
type llmService struct {
	gen Generator
}

// NewService wraps a Generator.
func NewService(gen Generator) Service {
	return &llmService{gen: gen}
}

func (s *llmService) ClassifyEmail(ctx context.Context, email EmailInput) (*Classification, error) {
	text, err := s.gen.Generate(ctx, classificationPrompt(email), true)
	if err != nil {
		return nil, err
	}
	result, err := ParseClassification(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.gen.Name(), err)
	}
	return result, nil
}

func (s *llmService) DraftReply(ctx context.Context, email EmailInput, instructions string) (string, error) {
	text, err := s.gen.Generate(ctx, replyPrompt(email, instructions), false)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s returned an empty reply", s.gen.Name())
	}
	return text, nil
}
