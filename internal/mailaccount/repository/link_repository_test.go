package repository_test

import (
	"context"
	"testing"
	"time"

	"dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/internal/mailaccount/repository"
	"dealdesk-backend/pkg/database/dbtest"
	"dealdesk-backend/pkg/utils/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (repository.LinkRepository, *crypto.TokenEncryption) {
	t.Helper()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "user-1")

	enc, err := crypto.NewTokenEncryption([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return repository.NewLinkRepository(db, enc), enc
}

func TestLinkRepository_UpsertAndFind(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	_, err := repo.FindByUserID(ctx, "user-1")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)

	link := &domain.Link{UserID: "user-1", EmailAddress: "vc@fund.com", AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, repo.Upsert(ctx, link))
	assert.NotEmpty(t, link.ID)
	assert.Equal(t, domain.StatusActive, link.Status)
	assert.Equal(t, "access-1", link.AccessToken)
	assert.Empty(t, link.HistoryID)

	require.NoError(t, repo.UpdateSyncState(ctx, "user-1", domain.SyncState{HistoryID: "900", SyncedAt: time.Now(), FullSync: true}))
	require.NoError(t, repo.MarkReauthRequired(ctx, "user-1"))

	// Reconnect without a refresh token keeps the old one and the cursor
	again := &domain.Link{UserID: "user-1", EmailAddress: "vc@fund.com", AccessToken: "access-2"}
	require.NoError(t, repo.Upsert(ctx, again))
	assert.Equal(t, link.ID, again.ID)
	assert.Equal(t, "access-2", again.AccessToken)
	assert.Equal(t, "refresh-1", again.RefreshToken)
	assert.Equal(t, "900", again.HistoryID)
	assert.Equal(t, domain.StatusActive, again.Status)
	assert.NotNil(t, again.LastFullSyncAt)

	byEmail, err := repo.FindByEmail(ctx, "VC@fund.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.UserID)
}

func TestLinkRepository_TokensEncrypted(t *testing.T) {
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "user-1")
	enc, err := crypto.NewTokenEncryption([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	repo := repository.NewLinkRepository(db, enc)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.Link{UserID: "user-1", EmailAddress: "vc@fund.com", AccessToken: "secret-access"}))
	require.NoError(t, repo.UpdateTokens(ctx, "user-1", "secret-access-2", "secret-refresh", time.Now().Add(time.Hour)))

	var raw struct {
		AccessToken  string
		RefreshToken string
	}
	require.NoError(t, db.Raw(`SELECT access_token, refresh_token FROM mail_account_links WHERE user_id = ?`, "user-1").Scan(&raw).Error)
	assert.NotContains(t, raw.AccessToken, "secret")
	assert.NotContains(t, raw.RefreshToken, "secret")

	link, err := repo.FindByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-access-2", link.AccessToken)
	assert.Equal(t, "secret-refresh", link.RefreshToken)
	assert.NotNil(t, link.TokenExpiry)
}

func TestLinkRepository_ListActiveAndDelete(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.Link{UserID: "user-1", EmailAddress: "vc@fund.com"}))
	links, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	require.NoError(t, repo.MarkReauthRequired(ctx, "user-1"))
	links, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)

	require.NoError(t, repo.Delete(ctx, "user-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "user-1"), repository.ErrLinkNotFound)
	assert.ErrorIs(t, repo.MarkReauthRequired(ctx, "user-1"), repository.ErrLinkNotFound)
}
