package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxBodyChars = 6000

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func classificationPrompt(email EmailInput) string {
	return fmt.Sprintf(`You triage the inbox of a venture capital investor.
Classify the email into exactly one category:
- deal_flow: a founder or intermediary pitching a company, fundraising, sharing a deck or data room
- networking: introductions, events, coffee requests, community
- hiring: candidates, recruiters, job applications, talent
- general: anything else that is legitimate
- spam: unsolicited marketing, phishing, bulk mail

Respond with JSON only:
{"category": "<one of deal_flow|networking|hiring|general|spam>", "confidence": <0..1>, "tags": ["short", "tags"], "rationale": "<one sentence>"}

FROM: %s
SUBJECT: %s
ATTACHMENTS: %s
BODY:
%s`, email.From, email.Subject, email.AttachmentText, truncate(email.Body, maxBodyChars))
}

func replyPrompt(email EmailInput, instructions string) string {
	if instructions == "" {
		instructions = "Be brief, warm and professional."
	}
	return fmt.Sprintf(`Write a reply from an investor to the email below.
%s
Return only the reply body, without a subject line or signature placeholder.

FROM: %s
SUBJECT: %s
BODY:
%s`, instructions, email.From, email.Subject, truncate(email.Body, maxBodyChars))
}

// ParseClassification extracts the JSON object from a model response,
// tolerating markdown fences and surrounding prose.
func ParseClassification(text string) (*Classification, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var result Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}
	result.Category = strings.ToLower(strings.TrimSpace(result.Category))
	if result.Category == "" {
		return nil, fmt.Errorf("model response has no category")
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}
