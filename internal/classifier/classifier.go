// Package classifier assigns every message one category from the fixed
// taxonomy. Deterministic rules run first, then the model, then looser
// fallback rules, so a category is always produced.
package classifier

import (
	"context"
	"time"

	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/pkg/ai"
	"dealdesk-backend/pkg/gmail"
	"dealdesk-backend/pkg/metrics"

	"github.com/rs/zerolog/log"
)

// Result is the classifier's verdict for one message.
type Result struct {
	Category   emaildomain.Category
	Confidence float64
	Tags       []string
	Rationale  string
	Stage      emaildomain.Stage
}

type Classifier struct {
	rules   *Rules
	model   ai.Service
	breaker *CircuitBreaker
	timeout time.Duration
}

// New builds a classifier. model may be nil, in which case the model stage
// is skipped.
func New(rules *Rules, model ai.Service, breaker *CircuitBreaker, timeout time.Duration) *Classifier {
	if breaker == nil {
		breaker = NewCircuitBreaker(10 * time.Minute)
	}
	return &Classifier{
		rules:   rules,
		model:   model,
		breaker: breaker,
		timeout: timeout,
	}
}

// Breaker exposes the quota breaker for status reporting.
func (c *Classifier) Breaker() *CircuitBreaker {
	return c.breaker
}

// Classify never fails. Model errors degrade to the fallback rules.
func (c *Classifier) Classify(ctx context.Context, msg *gmail.Message) *Result {
	res := c.classify(ctx, msg)
	if res.Tags == nil {
		res.Tags = []string{}
	}
	metrics.MessagesClassified.WithLabelValues(string(res.Stage), string(res.Category)).Inc()
	return res
}

func (c *Classifier) classify(ctx context.Context, msg *gmail.Message) *Result {
	if res, ok := c.rules.Deterministic(msg); ok {
		return res
	}
	if res := c.modelStage(ctx, msg); res != nil {
		return res
	}
	return c.rules.Fallback(msg)
}

func (c *Classifier) modelStage(ctx context.Context, msg *gmail.Message) *Result {
	if c.model == nil {
		return nil
	}
	if !c.breaker.Allow() {
		metrics.ModelCalls.WithLabelValues("skipped").Inc()
		return nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.model.ClassifyEmail(ctx, ai.EmailInput{
		Subject:        msg.Subject,
		From:           msg.From,
		Body:           msg.PlainText(),
		AttachmentText: msg.AttachmentText(),
	})
	if err != nil {
		if ai.IsQuotaError(err) {
			c.breaker.Trip()
			metrics.ModelCalls.WithLabelValues("quota").Inc()
			log.Warn().Err(err).Time("until", c.breaker.OpenUntil()).Msg("model quota exhausted, using rules only")
		} else {
			metrics.ModelCalls.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("model classification failed")
		}
		return nil
	}

	category, ok := emaildomain.ParseCategory(out.Category)
	if !ok {
		metrics.ModelCalls.WithLabelValues("invalid").Inc()
		log.Warn().Str("message_id", msg.ID).Str("category", out.Category).Msg("model returned unknown category")
		return nil
	}
	metrics.ModelCalls.WithLabelValues("ok").Inc()

	confidence := out.Confidence
	if confidence == 0 {
		confidence = fallbackConfidence
	}
	return &Result{
		Category:   category,
		Confidence: confidence,
		Tags:       out.Tags,
		Rationale:  out.Rationale,
		Stage:      emaildomain.StageModel,
	}
}
