package repository

import (
	"context"
	"time"

	"dealdesk-backend/internal/mailaccount/domain"
)

// LinkRepository stores mailbox links and their sync cursor
type LinkRepository interface {
	// Upsert creates the user's link or replaces its tokens. Replacing marks
	// the link active again.
	Upsert(ctx context.Context, link *domain.Link) error
	FindByUserID(ctx context.Context, userID string) (*domain.Link, error)
	FindByEmail(ctx context.Context, email string) (*domain.Link, error)
	ListActive(ctx context.Context) ([]*domain.Link, error)
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error
	// UpdateSyncState advances the cursor. It is the only writer of history_id.
	UpdateSyncState(ctx context.Context, userID string, state domain.SyncState) error
	MarkReauthRequired(ctx context.Context, userID string) error
	UpdateWatchExpiry(ctx context.Context, userID string, expiresAt time.Time) error
	Delete(ctx context.Context, userID string) error
}
