package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dealdomain "dealdesk-backend/internal/deal/domain"
	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/internal/email/repository"
	"dealdesk-backend/pkg/ai"
	"dealdesk-backend/pkg/fuzzy"
	"dealdesk-backend/pkg/gmail"

	"github.com/rs/zerolog/log"
)

var ErrInvalidCategory = errors.New("invalid category")

// MessageGateway is the part of the mail provider the message actions use
type MessageGateway interface {
	GetMessage(ctx context.Context, creds gmail.Credentials, id string) (*gmail.Message, error)
	SetStarred(ctx context.Context, creds gmail.Credentials, id string, starred bool) error
	SendReply(ctx context.Context, creds gmail.Credentials, reply gmail.Reply) (string, error)
}

type messageUsecase struct {
	classifications repository.ClassificationRepository
	accounts        AccountStore
	gateway         MessageGateway
	extractor       DealExtractor
	model           ai.Service
}

// NewMessageUsecase builds the message actions. model may be nil, drafts
// then use a plain template.
func NewMessageUsecase(classifications repository.ClassificationRepository, accounts AccountStore, gateway MessageGateway, extractor DealExtractor, model ai.Service) MessageUsecase {
	return &messageUsecase{
		classifications: classifications,
		accounts:        accounts,
		gateway:         gateway,
		extractor:       extractor,
		model:           model,
	}
}

func (u *messageUsecase) List(ctx context.Context, userID string, q ListQuery) ([]*emaildomain.MessageClassification, int64, error) {
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return u.classifications.ListByUser(ctx, userID, q.ListFilter)
	}

	// The retained set is bounded by the cap, ranking it in memory is fine
	rows, err := u.classifications.ListAllByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	candidates := make([]*emaildomain.MessageClassification, 0, len(rows))
	docs := make([]fuzzy.Fields, 0, len(rows))
	for _, r := range rows {
		if q.Category != "" && r.Category != q.Category {
			continue
		}
		if q.Starred != nil && r.IsStarred != *q.Starred {
			continue
		}
		candidates = append(candidates, r)
		docs = append(docs, fuzzy.Fields{
			Subject:    r.Subject,
			Sender:     r.Sender,
			SenderName: r.SenderName,
			Snippet:    r.Snippet,
		})
	}

	matches := fuzzy.Rank(query, docs)
	total := int64(len(matches))

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	start := q.Offset
	if start > len(matches) {
		start = len(matches)
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}

	out := make([]*emaildomain.MessageClassification, 0, end-start)
	for _, m := range matches[start:end] {
		out = append(out, candidates[m.Index])
	}
	return out, total, nil
}

func (u *messageUsecase) Get(ctx context.Context, userID, messageID string) (*emaildomain.MessageClassification, error) {
	return u.classifications.FindByMessageID(ctx, userID, messageID)
}

func (u *messageUsecase) CountByCategory(ctx context.Context, userID string) (map[emaildomain.Category]int64, error) {
	return u.classifications.CountByCategory(ctx, userID)
}

func (u *messageUsecase) Reclassify(ctx context.Context, userID, messageID string, category emaildomain.Category) (*emaildomain.MessageClassification, error) {
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}

	var deal *dealdomain.Deal
	if category == emaildomain.CategoryDealFlow {
		current, err := u.classifications.FindByMessageID(ctx, userID, messageID)
		if err != nil {
			return nil, err
		}
		if current.Deal == nil {
			deal = u.dealFor(ctx, userID, current)
		}
	}
	return u.classifications.Reclassify(ctx, userID, messageID, category, deal)
}

// dealFor extracts a deal from the live message, or from the stored
// metadata when the message cannot be fetched.
func (u *messageUsecase) dealFor(ctx context.Context, userID string, row *emaildomain.MessageClassification) *dealdomain.Deal {
	if u.extractor != nil {
		msg, err := u.fetch(ctx, userID, row.MessageID)
		if err == nil {
			return u.extractor.Extract(msg)
		}
		log.Warn().Err(err).Str("user_id", userID).Str("message_id", row.MessageID).Msg("extracting deal from stored metadata")
	}
	return &dealdomain.Deal{
		FounderName:  row.SenderName,
		FounderEmail: row.Sender,
		Score:        40,
	}
}

func (u *messageUsecase) SetStarred(ctx context.Context, userID, messageID string, starred bool) error {
	if _, err := u.classifications.FindByMessageID(ctx, userID, messageID); err != nil {
		return err
	}
	creds, err := u.credentials(ctx, userID)
	if err != nil {
		return err
	}
	if err := u.gateway.SetStarred(ctx, creds, messageID, starred); err != nil {
		return u.gatewayError(ctx, userID, err)
	}
	return u.classifications.SetStarred(ctx, userID, messageID, starred)
}

func (u *messageUsecase) DraftReply(ctx context.Context, userID, messageID, instructions string) (string, error) {
	if _, err := u.classifications.FindByMessageID(ctx, userID, messageID); err != nil {
		return "", err
	}
	msg, err := u.fetch(ctx, userID, messageID)
	if err != nil {
		return "", err
	}

	if u.model != nil {
		draft, err := u.model.DraftReply(ctx, ai.EmailInput{
			Subject:        msg.Subject,
			From:           msg.From,
			Body:           msg.PlainText(),
			AttachmentText: msg.AttachmentText(),
		}, instructions)
		if err == nil && strings.TrimSpace(draft) != "" {
			return strings.TrimSpace(draft), nil
		}
		log.Warn().Err(err).Str("user_id", userID).Str("message_id", messageID).Msg("model draft failed, using template")
	}
	return templateReply(msg), nil
}

func (u *messageUsecase) SendReply(ctx context.Context, userID, messageID, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", errors.New("reply body is empty")
	}
	if _, err := u.classifications.FindByMessageID(ctx, userID, messageID); err != nil {
		return "", err
	}

	link, err := u.accounts.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	creds := u.accounts.Credentials(link)

	msg, err := u.gateway.GetMessage(ctx, creds, messageID)
	if err != nil {
		return "", u.gatewayError(ctx, userID, err)
	}
	sentID, err := u.gateway.SendReply(ctx, creds, gmail.ReplyTo(msg, link.EmailAddress, "", body))
	if err != nil {
		return "", u.gatewayError(ctx, userID, err)
	}

	if err := u.classifications.MarkReplied(ctx, userID, messageID, time.Now()); err != nil {
		// The reply is out, only the bookkeeping failed
		log.Error().Err(err).Str("user_id", userID).Str("message_id", messageID).Msg("failed to mark message replied")
	}
	return sentID, nil
}

func (u *messageUsecase) fetch(ctx context.Context, userID, messageID string) (*gmail.Message, error) {
	creds, err := u.credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	msg, err := u.gateway.GetMessage(ctx, creds, messageID)
	if err != nil {
		return nil, u.gatewayError(ctx, userID, err)
	}
	return msg, nil
}

func (u *messageUsecase) credentials(ctx context.Context, userID string) (gmail.Credentials, error) {
	link, err := u.accounts.Get(ctx, userID)
	if err != nil {
		return gmail.Credentials{}, err
	}
	return u.accounts.Credentials(link), nil
}

func (u *messageUsecase) gatewayError(ctx context.Context, userID string, err error) error {
	if errors.Is(err, ErrReauthRequired) {
		if markErr := u.accounts.MarkReauthRequired(ctx, userID); markErr != nil {
			log.Error().Err(markErr).Str("user_id", userID).Msg("failed to mark mailbox for reauthorization")
		}
	}
	return err
}

func templateReply(msg *gmail.Message) string {
	name := msg.FromName
	if name == "" {
		name = "there"
	} else if i := strings.Index(name, " "); i > 0 {
		name = name[:i]
	}
	return fmt.Sprintf("Hi %s,\n\nThanks for reaching out. I'll take a look and get back to you shortly.\n\nBest,", name)
}
