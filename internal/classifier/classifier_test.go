package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/pkg/ai"
	"dealdesk-backend/pkg/config"
	"dealdesk-backend/pkg/gmail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	result *ai.Classification
	err    error
	calls  int
}

func (f *fakeModel) ClassifyEmail(ctx context.Context, email ai.EmailInput) (*ai.Classification, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeModel) DraftReply(ctx context.Context, email ai.EmailInput, instructions string) (string, error) {
	return "", errors.New("not used")
}

func testRules(t *testing.T) *Rules {
	t.Helper()
	rules, err := NewRules(config.RulesConfig{
		SenderDenylist:      []string{"newsletter@"},
		SenderAllowlist:     []string{"@trusted.vc"},
		SpamKeywords:        []string{"you have won", "claim your prize", "unsubscribe"},
		FundraisingKeywords: []string{"we are raising", "pitch deck", "seed"},
		DeckLinkPatterns:    []string{`docsend\.com/`},
		HiringKeywords:      []string{"my resume"},
		NetworkingKeywords:  []string{"coffee chat"},
	})
	require.NoError(t, err)
	return rules
}

func message(from, subject, body string) *gmail.Message {
	return &gmail.Message{ID: "m1", From: from, Subject: subject, Body: body, Headers: map[string]string{}}
}

func TestClassify_SpamNeverCallsModel(t *testing.T) {
	model := &fakeModel{result: &ai.Classification{Category: "general", Confidence: 0.7}}
	c := New(testRules(t), model, nil, time.Second)

	for _, msg := range []*gmail.Message{
		message("newsletter@shop.com", "Weekly deals", "hello"),
		message("x@lottery.biz", "You have won", "Claim your prize today"),
		{ID: "m2", From: "a@b.co", LabelIDs: []string{"SPAM"}, Headers: map[string]string{}},
	} {
		res := c.Classify(context.Background(), msg)
		assert.Equal(t, emaildomain.CategorySpam, res.Category)
		assert.Equal(t, emaildomain.StageDeterministic, res.Stage)
		assert.Equal(t, 0.9, res.Confidence)
	}
	assert.Zero(t, model.calls)
}

func TestClassify_DeterministicDealFlow(t *testing.T) {
	model := &fakeModel{}
	c := New(testRules(t), model, nil, time.Second)

	msg := message("jane@startup.io", "Intro", "We are raising a seed round, deck: https://docsend.com/view/abc")
	res := c.Classify(context.Background(), msg)
	assert.Equal(t, emaildomain.CategoryDealFlow, res.Category)
	assert.Equal(t, emaildomain.StageDeterministic, res.Stage)
	assert.Contains(t, res.Tags, "deck-link")
	assert.Contains(t, res.Tags, "seed")

	pdf := message("jane@startup.io", "Our pitch deck", "see attached")
	pdf.Attachments = []gmail.Attachment{{Filename: "deck.pdf", MimeType: "application/pdf"}}
	res = c.Classify(context.Background(), pdf)
	assert.Equal(t, emaildomain.CategoryDealFlow, res.Category)
	assert.Contains(t, res.Tags, "pdf")
	assert.Zero(t, model.calls)
}

func TestClassify_AllowlistSkipsSpamRules(t *testing.T) {
	model := &fakeModel{result: &ai.Classification{Category: "networking", Confidence: 0.8}}
	c := New(testRules(t), model, nil, time.Second)

	res := c.Classify(context.Background(), message("partner@trusted.vc", "You have won", "claim your prize"))
	assert.Equal(t, emaildomain.CategoryNetworking, res.Category)
	assert.Equal(t, emaildomain.StageModel, res.Stage)
	assert.Equal(t, 1, model.calls)
}

func TestClassify_ModelStage(t *testing.T) {
	model := &fakeModel{result: &ai.Classification{Category: "Hiring", Confidence: 0.75, Tags: []string{"engineer"}, Rationale: "candidate"}}
	c := New(testRules(t), model, nil, time.Second)

	res := c.Classify(context.Background(), message("bob@mail.com", "Hello", "Quick question"))
	assert.Equal(t, emaildomain.CategoryHiring, res.Category)
	assert.Equal(t, emaildomain.StageModel, res.Stage)
	assert.Equal(t, 0.75, res.Confidence)
	assert.Equal(t, []string{"engineer"}, res.Tags)
}

func TestClassify_ModelFailureFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		msg   *gmail.Message
		want  emaildomain.Category
	}{
		{"transport error", &fakeModel{err: errors.New("dial tcp: refused")}, message("bob@mail.com", "Hello", "Quick question"), emaildomain.CategoryGeneral},
		{"unknown category", &fakeModel{result: &ai.Classification{Category: "finance"}}, message("bob@mail.com", "Hello", "Quick question"), emaildomain.CategoryGeneral},
		{"fallback hiring", &fakeModel{err: errors.New("boom")}, message("bob@mail.com", "Application", "attached my resume"), emaildomain.CategoryHiring},
		{"fallback networking", &fakeModel{err: errors.New("boom")}, message("bob@mail.com", "Hi", "up for a coffee chat?"), emaildomain.CategoryNetworking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(testRules(t), tt.model, nil, time.Second)
			res := c.Classify(context.Background(), tt.msg)
			assert.Equal(t, tt.want, res.Category)
			assert.Equal(t, emaildomain.StageFallback, res.Stage)
			assert.Equal(t, 0.5, res.Confidence)
			assert.NotNil(t, res.Tags)
		})
	}
}

func TestClassify_NoModel(t *testing.T) {
	c := New(testRules(t), nil, nil, time.Second)
	res := c.Classify(context.Background(), message("bob@mail.com", "Hello", "Quick question"))
	assert.Equal(t, emaildomain.CategoryGeneral, res.Category)
	assert.Equal(t, emaildomain.StageFallback, res.Stage)
}

func TestClassify_QuotaErrorOpensBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	breaker := NewCircuitBreaker(10 * time.Minute)
	breaker.now = func() time.Time { return now }

	model := &fakeModel{err: errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")}
	c := New(testRules(t), model, breaker, time.Second)
	msg := message("bob@mail.com", "Hello", "Quick question")

	c.Classify(context.Background(), msg)
	c.Classify(context.Background(), msg)
	assert.Equal(t, 1, model.calls, "open breaker skips the model")
	assert.Equal(t, now.Add(10*time.Minute), breaker.OpenUntil())

	now = now.Add(11 * time.Minute)
	model.err = nil
	model.result = &ai.Classification{Category: "networking", Confidence: 0.6}
	res := c.Classify(context.Background(), msg)
	assert.Equal(t, 2, model.calls, "breaker resets after the window")
	assert.Equal(t, emaildomain.CategoryNetworking, res.Category)
	assert.True(t, breaker.OpenUntil().IsZero())
}

func TestNewRules_InvalidPattern(t *testing.T) {
	_, err := NewRules(config.RulesConfig{DeckLinkPatterns: []string{"("}})
	assert.Error(t, err)
}

func TestBulkDeckLinkIsNotDeterministic(t *testing.T) {
	rules := testRules(t)
	msg := message("digest@vcnews.com", "This week", "we are raising awareness https://docsend.com/view/x")
	msg.Headers["list-unsubscribe"] = "<mailto:u@vcnews.com>"
	_, ok := rules.Deterministic(msg)
	assert.False(t, ok)
}
