package usecase

import (
	"context"

	emaildomain "dealdesk-backend/internal/email/domain"
)

// ListQuery filters a listing. A non-empty Query switches to fuzzy ranking
// over the retained rows.
type ListQuery struct {
	emaildomain.ListFilter
	Query string
}

// MessageUsecase serves the classified messages of a user
type MessageUsecase interface {
	List(ctx context.Context, userID string, q ListQuery) ([]*emaildomain.MessageClassification, int64, error)
	Get(ctx context.Context, userID, messageID string) (*emaildomain.MessageClassification, error)
	CountByCategory(ctx context.Context, userID string) (map[emaildomain.Category]int64, error)
	Reclassify(ctx context.Context, userID, messageID string, category emaildomain.Category) (*emaildomain.MessageClassification, error)
	// SetStarred updates the mailbox first, then the stored row
	SetStarred(ctx context.Context, userID, messageID string, starred bool) error
	DraftReply(ctx context.Context, userID, messageID, instructions string) (string, error)
	// SendReply sends body in the message's thread and returns the sent id
	SendReply(ctx context.Context, userID, messageID, body string) (string, error)
}
