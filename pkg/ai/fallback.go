package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StatusError is a non-200 answer from an HTTP provider
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// FallbackService tries generators in order and returns the first answer.
// In the default wiring Gemini goes first and Ollama second.
type FallbackService struct {
	generators []Generator
}

// NewFallbackService skips nil generators.
func NewFallbackService(generators ...Generator) *FallbackService {
	f := &FallbackService{}
	for _, g := range generators {
		if g != nil {
			f.generators = append(f.generators, g)
		}
	}
	return f
}

func (f *FallbackService) Name() string {
	names := make([]string, len(f.generators))
	for i, g := range f.generators {
		names[i] = g.Name()
	}
	return strings.Join(names, "+")
}

func (f *FallbackService) Generate(ctx context.Context, prompt string, jsonOutput bool) (string, error) {
	var errs []error
	for _, g := range f.generators {
		result, err := g.Generate(ctx, prompt, jsonOutput)
		if err == nil {
			return result, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))

		if ctx.Err() != nil {
			break
		}
		switch {
		case IsQuotaError(err):
			log.Warn().Str("provider", g.Name()).Err(err).Msg("ai provider quota exhausted, trying next")
		case isConnectionError(err):
			log.Warn().Str("provider", g.Name()).Err(err).Msg("ai provider unreachable, trying next")
		default:
			log.Warn().Str("provider", g.Name()).Err(err).Msg("ai provider failed, trying next")
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no AI provider available")
	}
	return "", errors.Join(errs...)
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// IsQuotaError reports whether err means the provider's quota is exhausted.
// Typed errors decide by status code; plain text is only matched when the
// provider gave nothing else.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	// FallbackService joins one error per provider
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if IsQuotaError(e) {
				return true
			}
		}
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.ResourceExhausted
	}
	var httpErr interface{ HTTPCode() int }
	if errors.As(err, &httpErr) && httpErr.HTTPCode() > 0 {
		return httpErr.HTTPCode() == http.StatusTooManyRequests
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
