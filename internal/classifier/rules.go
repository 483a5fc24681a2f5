package classifier

import (
	"fmt"
	"regexp"
	"strings"

	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/pkg/config"
	"dealdesk-backend/pkg/gmail"
)

const (
	deterministicConfidence = 0.9
	fallbackConfidence      = 0.5
)

// Rules holds the compiled keyword and pattern lists.
type Rules struct {
	denylist    []string
	allowlist   []string
	spam        []string
	fundraising []string
	hiring      []string
	networking  []string
	deckLinks   []*regexp.Regexp
}

// NewRules compiles the configured lists. Keywords match case-insensitively.
func NewRules(cfg config.RulesConfig) (*Rules, error) {
	r := &Rules{
		denylist:    lower(cfg.SenderDenylist),
		allowlist:   lower(cfg.SenderAllowlist),
		spam:        lower(cfg.SpamKeywords),
		fundraising: lower(cfg.FundraisingKeywords),
		hiring:      lower(cfg.HiringKeywords),
		networking:  lower(cfg.NetworkingKeywords),
	}
	for _, p := range cfg.DeckLinkPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid deck link pattern %q: %w", p, err)
		}
		r.deckLinks = append(r.deckLinks, re)
	}
	return r, nil
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matches(text string, keywords []string) []string {
	var hits []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			hits = append(hits, k)
		}
	}
	return hits
}

type signals struct {
	sender     string
	text       string
	allowed    bool
	denied     string
	bulk       bool
	spamLabel  bool
	spamHits   []string
	fundHits   []string
	hiringHits []string
	netHits    []string
	deckLink   string
	hasPDF     bool
}

func (r *Rules) inspect(msg *gmail.Message) signals {
	text := strings.ToLower(msg.Subject + "\n" + msg.PlainText() + "\n" + msg.AttachmentText())
	s := signals{
		sender:     strings.ToLower(msg.From),
		text:       text,
		bulk:       msg.Header("List-Unsubscribe") != "" || strings.EqualFold(msg.Header("Precedence"), "bulk"),
		spamLabel:  msg.HasLabel("SPAM"),
		spamHits:   matches(text, r.spam),
		fundHits:   matches(text, r.fundraising),
		hiringHits: matches(text, r.hiring),
		netHits:    matches(text, r.networking),
		hasPDF:     msg.HasPDF(),
	}
	for _, a := range r.allowlist {
		if strings.Contains(s.sender, a) {
			s.allowed = true
			break
		}
	}
	for _, d := range r.denylist {
		if strings.Contains(s.sender, d) {
			s.denied = d
			break
		}
	}
	for _, re := range r.deckLinks {
		if m := re.FindString(msg.Body); m != "" {
			s.deckLink = m
			break
		}
	}
	return s
}

// Deterministic returns a result only when the signals are unambiguous.
func (r *Rules) Deterministic(msg *gmail.Message) (*Result, bool) {
	s := r.inspect(msg)

	if !s.allowed {
		switch {
		case s.spamLabel:
			return spamResult("provider marked the message as spam", "provider-spam"), true
		case s.denied != "":
			return spamResult(fmt.Sprintf("sender matches denylist pattern %q", s.denied), "denylist"), true
		case len(s.spamHits) >= 2 && len(s.fundHits) == 0:
			return spamResult(fmt.Sprintf("spam keywords: %s", strings.Join(s.spamHits, ", ")), "spam-keywords"), true
		case s.bulk && len(s.spamHits) > 0 && len(s.fundHits) == 0:
			return spamResult("bulk mail with spam keywords", "bulk"), true
		}
	}

	// Bulk mail with a deck link is usually a newsletter, not a pitch
	if s.bulk {
		return nil, false
	}
	switch {
	case s.deckLink != "" && len(s.fundHits) > 0:
		return dealResult(s, fmt.Sprintf("deck link %q with fundraising language", s.deckLink)), true
	case s.hasPDF && len(s.fundHits) > 0:
		return dealResult(s, "pdf attachment with fundraising language"), true
	case s.deckLink != "" && s.hasPDF:
		return dealResult(s, "deck link and pdf attachment"), true
	}
	return nil, false
}

// Fallback always assigns a category.
func (r *Rules) Fallback(msg *gmail.Message) *Result {
	s := r.inspect(msg)
	res := &Result{
		Category:   emaildomain.CategoryGeneral,
		Confidence: fallbackConfidence,
		Stage:      emaildomain.StageFallback,
		Rationale:  "no rule matched",
	}

	switch {
	case len(s.fundHits) > 0 || s.deckLink != "":
		res.Category = emaildomain.CategoryDealFlow
		res.Tags = dealTags(s)
		res.Rationale = "fundraising keywords: " + strings.Join(s.fundHits, ", ")
		if len(s.fundHits) == 0 {
			res.Rationale = "deck link"
		}
	case len(s.hiringHits) > 0:
		res.Category = emaildomain.CategoryHiring
		res.Tags = []string{"hiring"}
		res.Rationale = "hiring keywords: " + strings.Join(s.hiringHits, ", ")
	case len(s.netHits) > 0:
		res.Category = emaildomain.CategoryNetworking
		res.Tags = []string{"networking"}
		res.Rationale = "networking keywords: " + strings.Join(s.netHits, ", ")
	case !s.allowed && (len(s.spamHits) > 0 || s.bulk):
		res.Category = emaildomain.CategorySpam
		res.Tags = []string{"bulk"}
		res.Rationale = "bulk or promotional signals"
	}
	return res
}

func spamResult(rationale, tag string) *Result {
	return &Result{
		Category:   emaildomain.CategorySpam,
		Confidence: deterministicConfidence,
		Stage:      emaildomain.StageDeterministic,
		Tags:       []string{tag},
		Rationale:  rationale,
	}
}

func dealResult(s signals, rationale string) *Result {
	return &Result{
		Category:   emaildomain.CategoryDealFlow,
		Confidence: deterministicConfidence,
		Stage:      emaildomain.StageDeterministic,
		Tags:       dealTags(s),
		Rationale:  rationale,
	}
}

func dealTags(s signals) []string {
	var tags []string
	if s.hasPDF {
		tags = append(tags, "pdf")
	}
	if s.deckLink != "" {
		tags = append(tags, "deck-link")
	}
	for _, stage := range []string{"pre-seed", "seed", "series a", "series b"} {
		if strings.Contains(s.text, stage) {
			tags = append(tags, strings.ReplaceAll(stage, " ", "-"))
			break
		}
	}
	return tags
}
