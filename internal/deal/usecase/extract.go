package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"dealdesk-backend/internal/deal/domain"
	"dealdesk-backend/pkg/gmail"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

	freeMailDomains = map[string]struct{}{
		"gmail.com": {}, "googlemail.com": {}, "outlook.com": {}, "hotmail.com": {},
		"yahoo.com": {}, "icloud.com": {}, "me.com": {}, "proton.me": {}, "protonmail.com": {},
		"aol.com": {}, "live.com": {},
	}

	stages = []struct{ key, label string }{
		{"pre-seed", "pre-seed"},
		{"preseed", "pre-seed"},
		{"series a", "series-a"},
		{"series b", "series-b"},
		{"seed", "seed"},
	}

	tractionKeywords = []string{"revenue", "arr", "mrr", "customers", "growth", "paying", "profitable", "users"}
)

// Extractor pulls founder, company and deck details out of a deal-flow
// message.
type Extractor struct {
	deckLinks []*regexp.Regexp
}

func NewExtractor(deckLinkPatterns []string) (*Extractor, error) {
	e := &Extractor{}
	for _, p := range deckLinkPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid deck link pattern %q: %w", p, err)
		}
		e.deckLinks = append(e.deckLinks, re)
	}
	return e, nil
}

// Extract builds an unsaved deal with its initial score.
func (e *Extractor) Extract(msg *gmail.Message) *domain.Deal {
	text := strings.ToLower(msg.Subject + "\n" + msg.PlainText())
	deal := &domain.Deal{
		FounderName:  msg.FromName,
		FounderEmail: msg.From,
		Company:      companyFromAddress(msg.From),
		DeckURL:      e.deckURL(msg.Body),
		HasPDF:       msg.HasPDF(),
		Stage:        detectStage(text),
	}
	if deal.FounderName == "" {
		deal.FounderName = localPart(msg.From)
	}
	deal.Score, deal.ScoreRationale = Score(deal, text)
	return deal
}

func (e *Extractor) deckURL(body string) string {
	for _, u := range urlPattern.FindAllString(body, -1) {
		for _, re := range e.deckLinks {
			if re.MatchString(u) {
				return strings.TrimRight(u, ".,;")
			}
		}
	}
	return ""
}

// Score rates a deal from 0 to 100 on the signals available in the email.
func Score(deal *domain.Deal, text string) (int, string) {
	score := 40
	var reasons []string

	if deal.DeckURL != "" {
		score += 20
		reasons = append(reasons, "deck link")
	}
	if deal.HasPDF {
		score += 15
		reasons = append(reasons, "pdf attached")
	}
	if deal.Stage != "" {
		score += 10
		reasons = append(reasons, "stage "+deal.Stage)
	}
	if deal.Company != "" {
		score += 5
		reasons = append(reasons, "company domain")
	}

	traction := 0
	for _, k := range tractionKeywords {
		if containsWord(text, k) {
			traction += 5
		}
	}
	if traction > 15 {
		traction = 15
	}
	if traction > 0 {
		score += traction
		reasons = append(reasons, "traction mentioned")
	}

	if score > 100 {
		score = 100
	}
	if len(reasons) == 0 {
		return score, "no strong signals"
	}
	return score, strings.Join(reasons, ", ")
}

func detectStage(text string) string {
	for _, s := range stages {
		if strings.Contains(text, s.key) {
			return s.label
		}
	}
	return ""
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		before := start == 0 || !isLetter(text[start-1])
		after := end == len(text) || !isLetter(text[end])
		if before && after {
			return true
		}
		idx = end
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func localPart(address string) string {
	if at := strings.Index(address, "@"); at > 0 {
		return address[:at]
	}
	return address
}

func companyFromAddress(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	domain := strings.ToLower(address[at+1:])
	if _, free := freeMailDomains[domain]; free {
		return ""
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ""
	}
	name := labels[len(labels)-2]
	// getacme.com, tryacme.io
	for _, prefix := range []string{"get", "try", "use", "join"} {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix)+2 {
			name = strings.TrimPrefix(name, prefix)
			break
		}
	}
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
