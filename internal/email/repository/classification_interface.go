package repository

import (
	"context"
	"time"

	dealdomain "dealdesk-backend/internal/deal/domain"
	emaildomain "dealdesk-backend/internal/email/domain"
)

// ClassificationRepository persists one classification per (user, message)
type ClassificationRepository interface {
	// InsertIfAbsent inserts the classification, and its deal when given, in
	// one transaction. A unique violation is reported as AlreadyExists.
	// A successful insert is followed by retention pruning for the user.
	InsertIfAbsent(ctx context.Context, c *emaildomain.MessageClassification, deal *dealdomain.Deal) (emaildomain.InsertOutcome, error)
	// ExistingMessageIDs returns the subset of messageIDs already stored
	ExistingMessageIDs(ctx context.Context, userID string, messageIDs []string) (map[string]struct{}, error)
	ListByUser(ctx context.Context, userID string, filter emaildomain.ListFilter) ([]*emaildomain.MessageClassification, int64, error)
	// ListAllByUser returns every retained row, newest first
	ListAllByUser(ctx context.Context, userID string) ([]*emaildomain.MessageClassification, error)
	FindByMessageID(ctx context.Context, userID, messageID string) (*emaildomain.MessageClassification, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	CountByCategory(ctx context.Context, userID string) (map[emaildomain.Category]int64, error)
	// Reclassify is the only path that changes a stored category
	Reclassify(ctx context.Context, userID, messageID string, category emaildomain.Category, deal *dealdomain.Deal) (*emaildomain.MessageClassification, error)
	SetStarred(ctx context.Context, userID, messageID string, starred bool) error
	MarkReplied(ctx context.Context, userID, messageID string, at time.Time) error
	// Prune enforces the retention cap for a user outside an insert
	Prune(ctx context.Context, userID string) (int64, error)
	RetentionCap() int
}
