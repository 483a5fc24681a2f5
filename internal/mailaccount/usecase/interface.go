package usecase

import (
	"context"
	"time"

	"dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/pkg/gmail"
)

// MailAccountUsecase manages the link between a user and their mailbox
type MailAccountUsecase interface {
	AuthURL(userID string) string
	Connect(ctx context.Context, userID, code, state string) (*domain.Link, error)
	Get(ctx context.Context, userID string) (*domain.Link, error)
	Disconnect(ctx context.Context, userID string) error
	ListActive(ctx context.Context) ([]*domain.Link, error)

	// Credentials builds gateway credentials that persist refreshed tokens
	Credentials(link *domain.Link) gmail.Credentials
	MarkReauthRequired(ctx context.Context, userID string) error
	UpdateSyncState(ctx context.Context, userID string, state domain.SyncState) error

	// RenewWatch re-registers push notifications when they expire within
	// the renewal window. It is a no-op without a topic.
	RenewWatch(ctx context.Context, userID string, renewBefore time.Duration) error
}
