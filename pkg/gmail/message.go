package gmail

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"
)

// Message is the provider-neutral view of a fetched message.
type Message struct {
	ID          string
	ThreadID    string
	From        string
	FromName    string
	To          string
	ReplyTo     string
	Subject     string
	Snippet     string
	Body        string
	IsHTML      bool
	Headers     map[string]string
	Attachments []Attachment
	LabelIDs    []string
	ReceivedAt  time.Time
	// MessageIDHeader and References are used to thread replies
	MessageIDHeader string
	References      string
}

type Attachment struct {
	Filename string
	MimeType string
	Size     int64
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	stylePattern = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
)

// Header returns a header value by case-insensitive name.
func (m *Message) Header(name string) string {
	return m.Headers[strings.ToLower(name)]
}

// HasLabel reports whether the message carries the label.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// HasPDF reports whether any attachment is a PDF.
func (m *Message) HasPDF() bool {
	for _, a := range m.Attachments {
		if a.MimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(a.Filename), ".pdf") {
			return true
		}
	}
	return false
}

// PlainText returns the body with markup removed and whitespace collapsed.
func (m *Message) PlainText() string {
	body := m.Body
	if m.IsHTML {
		body = stylePattern.ReplaceAllString(body, " ")
		body = tagPattern.ReplaceAllString(body, " ")
		body = html.UnescapeString(body)
	}
	return strings.Join(strings.Fields(body), " ")
}

// AttachmentText is what the classifier sees of attachments.
func (m *Message) AttachmentText() string {
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Filename)
	}
	return strings.Join(names, ", ")
}

func convertMessage(msg *gmail.Message) *Message {
	out := &Message{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    html.UnescapeString(msg.Snippet),
		LabelIDs:   msg.LabelIds,
		Headers:    make(map[string]string),
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return out
	}

	for _, h := range msg.Payload.Headers {
		key := strings.ToLower(h.Name)
		if _, ok := out.Headers[key]; !ok {
			out.Headers[key] = h.Value
		}
	}

	out.Subject = out.Header("Subject")
	out.To = out.Header("To")
	out.ReplyTo = out.Header("Reply-To")
	out.MessageIDHeader = out.Header("Message-ID")
	out.References = out.Header("References")
	out.From, out.FromName = parseFrom(out.Header("From"))
	out.Body, out.IsHTML = getBody(msg.Payload)
	out.Attachments = getAttachments(msg.Payload)
	return out
}

func parseFrom(from string) (address, name string) {
	if from == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		// Fall back to the "Name <email>" split for malformed headers
		if idx := strings.Index(from, "<"); idx >= 0 {
			end := strings.Index(from[idx:], ">")
			if end > 0 {
				return strings.ToLower(strings.TrimSpace(from[idx+1 : idx+end])), strings.Trim(strings.TrimSpace(from[:idx]), `"`)
			}
		}
		return strings.ToLower(strings.TrimSpace(from)), ""
	}
	return strings.ToLower(addr.Address), addr.Name
}

func decodeData(data string) (string, bool) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", false
		}
	}
	return string(decoded), true
}

func getBody(payload *gmail.MessagePart) (string, bool) {
	if len(payload.Parts) == 0 && payload.Body != nil && payload.Body.Data != "" {
		if body, ok := decodeData(payload.Body.Data); ok {
			return body, payload.MimeType == "text/html"
		}
	}

	var htmlBody, plainBody string
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
				switch part.MimeType {
				case "text/html":
					if htmlBody == "" {
						htmlBody, _ = decodeData(part.Body.Data)
					}
				case "text/plain":
					if plainBody == "" {
						plainBody, _ = decodeData(part.Body.Data)
					}
				}
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)

	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, htmlBody != ""
}

func getAttachments(payload *gmail.MessagePart) []Attachment {
	var attachments []Attachment
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" {
				var size int64
				if part.Body != nil {
					size = part.Body.Size
				}
				attachments = append(attachments, Attachment{
					Filename: part.Filename,
					MimeType: part.MimeType,
					Size:     size,
				})
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)
	return attachments
}
