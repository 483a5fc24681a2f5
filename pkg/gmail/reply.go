package gmail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Reply is an outgoing answer to a fetched message.
type Reply struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string
	ThreadID string
	// InReplyTo is the Message-ID header of the message being answered
	InReplyTo  string
	References string
}

// ReplyTo builds a reply addressed to the sender of m.
func ReplyTo(m *Message, from, fromName, body string) Reply {
	to := m.ReplyTo
	if to == "" {
		to = m.Header("From")
	}
	if to == "" {
		to = m.From
	}
	refs := strings.TrimSpace(strings.TrimSpace(m.References) + " " + m.MessageIDHeader)
	return Reply{
		From:       from,
		FromName:   fromName,
		To:         to,
		Subject:    replySubject(m.Subject),
		Body:       body,
		ThreadID:   m.ThreadID,
		InReplyTo:  m.MessageIDHeader,
		References: refs,
	}
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// Build renders the reply as an RFC 5322 message.
func (r Reply) Build(now time.Time) ([]byte, error) {
	if r.To == "" {
		return nil, errors.New("reply has no recipient")
	}
	to, err := mail.ParseAddressList(r.To)
	if err != nil {
		return nil, fmt.Errorf("invalid reply recipient %q: %w", r.To, err)
	}

	var h mail.Header
	h.SetDate(now)
	if r.From != "" {
		h.SetAddressList("From", []*mail.Address{{Name: r.FromName, Address: r.From}})
	}
	h.SetAddressList("To", to)
	h.SetSubject(r.Subject)
	if r.InReplyTo != "" {
		h.Set("In-Reply-To", r.InReplyTo)
	}
	if r.References != "" {
		h.Set("References", r.References)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create reply writer: %w", err)
	}
	if _, err := io.WriteString(w, r.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
