package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dealdesk-backend/internal/deal/domain"
	"dealdesk-backend/internal/deal/repository"
	maildomain "dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/pkg/gmail"
)

var ErrInvalidStage = errors.New("invalid deal stage")

// ValidStages are the pipeline stages a user can move a deal through, in
// addition to the funding stages detected from the email.
var ValidStages = []string{"pre-seed", "seed", "series-a", "series-b", "reviewing", "meeting", "passed", "invested"}

// MessageSource fetches the message a deal came from
type MessageSource interface {
	GetMessage(ctx context.Context, creds gmail.Credentials, id string) (*gmail.Message, error)
}

// AccountCredentials resolves a user's gateway credentials
type AccountCredentials interface {
	Get(ctx context.Context, userID string) (*maildomain.Link, error)
	Credentials(link *maildomain.Link) gmail.Credentials
}

type dealUsecase struct {
	deals     repository.DealRepository
	messages  MessageSource
	accounts  AccountCredentials
	extractor *Extractor
}

func NewDealUsecase(deals repository.DealRepository, messages MessageSource, accounts AccountCredentials, extractor *Extractor) DealUsecase {
	return &dealUsecase{deals: deals, messages: messages, accounts: accounts, extractor: extractor}
}

func (u *dealUsecase) List(ctx context.Context, userID string, limit, offset int) ([]*domain.DealWithMessage, int64, error) {
	return u.deals.ListByUser(ctx, userID, limit, offset)
}

func (u *dealUsecase) Get(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error) {
	return u.deals.FindByID(ctx, userID, dealID)
}

func (u *dealUsecase) Rescore(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error) {
	deal, err := u.deals.FindByID(ctx, userID, dealID)
	if err != nil {
		return nil, err
	}
	link, err := u.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	msg, err := u.messages.GetMessage(ctx, u.accounts.Credentials(link), deal.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deal message: %w", err)
	}

	// Founder details and the stage may have been edited, only the deck
	// signals are taken from the message again.
	fresh := u.extractor.Extract(msg)
	current := deal.Deal
	current.DeckURL = fresh.DeckURL
	current.HasPDF = fresh.HasPDF
	current.Score, current.ScoreRationale = Score(&current, strings.ToLower(msg.Subject+"\n"+msg.PlainText()))
	if err := u.deals.UpdateScore(ctx, userID, dealID, &current); err != nil {
		return nil, err
	}
	return u.deals.FindByID(ctx, userID, dealID)
}

func (u *dealUsecase) UpdateStage(ctx context.Context, userID, dealID, stage string) (*domain.DealWithMessage, error) {
	stage = strings.ToLower(strings.TrimSpace(stage))
	valid := false
	for _, s := range ValidStages {
		if s == stage {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidStage
	}
	if err := u.deals.UpdateStage(ctx, userID, dealID, stage); err != nil {
		return nil, err
	}
	return u.deals.FindByID(ctx, userID, dealID)
}
