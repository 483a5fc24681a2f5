package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/internal/mailaccount/repository"
	"dealdesk-backend/pkg/database/dbtest"
	"dealdesk-backend/pkg/gmail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeExchanger struct {
	token *oauth2.Token
	err   error
}

func (f *fakeExchanger) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return f.token, f.err
}

type fakeMailbox struct {
	email    string
	watchErr error
	watches  int
	stops    int
}

func (f *fakeMailbox) Profile(ctx context.Context, creds gmail.Credentials) (string, string, error) {
	return f.email, "123", nil
}

func (f *fakeMailbox) Watch(ctx context.Context, creds gmail.Credentials, topic string) (*gmail.WatchResult, error) {
	f.watches++
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return &gmail.WatchResult{HistoryID: "123", Expiration: time.Now().Add(7 * 24 * time.Hour)}, nil
}

func (f *fakeMailbox) Stop(ctx context.Context, creds gmail.Credentials) error {
	f.stops++
	return nil
}

func setup(t *testing.T, topic string) (*mailAccountUsecase, *fakeMailbox, repository.LinkRepository) {
	t.Helper()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "user-1")
	links := repository.NewLinkRepository(db, nil)
	mailbox := &fakeMailbox{email: "vc@fund.com"}
	oauth := &fakeExchanger{token: &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}}
	uc := NewMailAccountUsecase(links, oauth, mailbox, topic).(*mailAccountUsecase)
	return uc, mailbox, links
}

func TestConnect(t *testing.T) {
	uc, mailbox, _ := setup(t, "projects/p/topics/gmail")
	ctx := context.Background()

	assert.Contains(t, uc.AuthURL("user-1"), "state=user-1")

	link, err := uc.Connect(ctx, "user-1", "code", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "vc@fund.com", link.EmailAddress)
	assert.Empty(t, link.HistoryID, "first sync lists the mailbox")
	assert.Equal(t, 1, mailbox.watches)

	stored, err := uc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.NotNil(t, stored.WatchExpiresAt)

	// Watch not due yet
	require.NoError(t, uc.RenewWatch(ctx, "user-1", 24*time.Hour))
	assert.Equal(t, 1, mailbox.watches)

	_, err = uc.Connect(ctx, "user-1", "code", "someone-else")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConnect_OtherMailboxResetsCursor(t *testing.T) {
	uc, mailbox, links := setup(t, "")
	ctx := context.Background()

	_, err := uc.Connect(ctx, "user-1", "code", "")
	require.NoError(t, err)
	require.NoError(t, links.UpdateSyncState(ctx, "user-1", domain.SyncState{HistoryID: "500", SyncedAt: time.Now()}))

	mailbox.email = "other@fund.com"
	link, err := uc.Connect(ctx, "user-1", "code", "")
	require.NoError(t, err)
	assert.Equal(t, "other@fund.com", link.EmailAddress)
	assert.Empty(t, link.HistoryID)
	assert.Zero(t, mailbox.watches, "no topic configured")
}

func TestRenewWatch_ReauthMarksLink(t *testing.T) {
	uc, mailbox, _ := setup(t, "projects/p/topics/gmail")
	ctx := context.Background()

	mailbox.watchErr = errors.New("boom")
	_, err := uc.Connect(ctx, "user-1", "code", "")
	require.NoError(t, err, "watch failures do not fail the link")

	mailbox.watchErr = gmail.ErrReauthRequired
	err = uc.RenewWatch(ctx, "user-1", time.Hour)
	assert.ErrorIs(t, err, gmail.ErrReauthRequired)

	link, err := uc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReauthRequired, link.Status)
}

func TestCredentialsPersistRefresh(t *testing.T) {
	uc, _, _ := setup(t, "")
	ctx := context.Background()

	_, err := uc.Connect(ctx, "user-1", "code", "")
	require.NoError(t, err)
	link, err := uc.Get(ctx, "user-1")
	require.NoError(t, err)

	creds := uc.Credentials(link)
	assert.Equal(t, "a", creds.AccessToken)
	require.NoError(t, creds.OnRefresh(&oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}))

	link, err = uc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", link.AccessToken)
	assert.Equal(t, "r", link.RefreshToken)
}

func TestDisconnect(t *testing.T) {
	uc, mailbox, _ := setup(t, "projects/p/topics/gmail")
	ctx := context.Background()

	_, err := uc.Connect(ctx, "user-1", "code", "")
	require.NoError(t, err)
	require.NoError(t, uc.Disconnect(ctx, "user-1"))
	assert.Equal(t, 1, mailbox.stops)

	_, err = uc.Get(ctx, "user-1")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}
