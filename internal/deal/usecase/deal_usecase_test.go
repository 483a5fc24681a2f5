package usecase

import (
	"context"
	"testing"
	"time"

	"dealdesk-backend/internal/deal/domain"
	"dealdesk-backend/internal/deal/repository"
	emaildomain "dealdesk-backend/internal/email/domain"
	emailrepo "dealdesk-backend/internal/email/repository"
	maildomain "dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/pkg/database/dbtest"
	"dealdesk-backend/pkg/gmail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	msg *gmail.Message
	err error
}

func (f *fakeMessages) GetMessage(ctx context.Context, creds gmail.Credentials, id string) (*gmail.Message, error) {
	return f.msg, f.err
}

type fakeAccounts struct{}

func (fakeAccounts) Get(ctx context.Context, userID string) (*maildomain.Link, error) {
	return &maildomain.Link{UserID: userID, Status: maildomain.StatusActive}, nil
}

func (fakeAccounts) Credentials(link *maildomain.Link) gmail.Credentials {
	return gmail.Credentials{AccessToken: "token"}
}

func seedDeal(t *testing.T) (DealUsecase, *fakeMessages, string) {
	t.Helper()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "user-1")

	classifications, err := emailrepo.NewClassificationRepository(db, 100, nil)
	require.NoError(t, err)

	deal := &domain.Deal{Company: "Acme", Score: 40}
	_, err = classifications.InsertIfAbsent(context.Background(), &emaildomain.MessageClassification{
		UserID:       "user-1",
		MessageID:    "m1",
		Subject:      "Raising",
		Sender:       "jane@acme.io",
		Category:     emaildomain.CategoryDealFlow,
		Confidence:   0.9,
		Stage:        emaildomain.StageDeterministic,
		ClassifiedAt: time.Now(),
	}, deal)
	require.NoError(t, err)

	messages := &fakeMessages{}
	extractor, err := NewExtractor([]string{`docsend\.com/`})
	require.NoError(t, err)
	return NewDealUsecase(repository.NewDealRepository(db, nil), messages, fakeAccounts{}, extractor), messages, deal.ID
}

func TestDealUsecase_ListAndGet(t *testing.T) {
	uc, _, id := seedDeal(t)
	ctx := context.Background()

	deals, total, err := uc.List(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, deals, 1)
	assert.Equal(t, "m1", deals[0].MessageID)
	assert.Equal(t, "Raising", deals[0].Subject)

	_, err = uc.Get(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, repository.ErrDealNotFound)

	got, err := uc.Get(ctx, "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Company)
}

func TestDealUsecase_Rescore(t *testing.T) {
	uc, messages, id := seedDeal(t)
	messages.msg = &gmail.Message{
		Subject:     "Raising",
		Body:        "revenue growth and new customers, deck https://docsend.com/view/x",
		Attachments: []gmail.Attachment{{Filename: "deck.pdf"}},
	}

	got, err := uc.Rescore(context.Background(), "user-1", id)
	require.NoError(t, err)
	assert.True(t, got.HasPDF)
	assert.Equal(t, "https://docsend.com/view/x", got.DeckURL)
	assert.Equal(t, "Acme", got.Company)
	assert.Equal(t, 95, got.Score)

	messages.err = gmail.ErrNotFound
	_, err = uc.Rescore(context.Background(), "user-1", id)
	assert.ErrorIs(t, err, gmail.ErrNotFound)
}

func TestDealUsecase_UpdateStage(t *testing.T) {
	uc, _, id := seedDeal(t)

	got, err := uc.UpdateStage(context.Background(), "user-1", id, "Meeting")
	require.NoError(t, err)
	assert.Equal(t, "meeting", got.Stage)

	_, err = uc.UpdateStage(context.Background(), "user-1", id, "acquired")
	assert.ErrorIs(t, err, ErrInvalidStage)
}
