package repository

import (
	"context"

	emaildomain "dealdesk-backend/internal/email/domain"
)

// SyncRunRepository keeps a short log of sync attempts per user
type SyncRunRepository interface {
	// Record stores run and trims the user's log to the newest keep entries
	Record(ctx context.Context, run *emaildomain.SyncRun) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*emaildomain.SyncRun, error)
}
