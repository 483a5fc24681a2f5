package repository

import (
	"context"

	"dealdesk-backend/internal/deal/domain"
)

// DealRepository reads deals joined with their source message. Deals are
// created and removed by the classification repository only.
type DealRepository interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DealWithMessage, int64, error)
	FindByID(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error)
	// UpdateScore writes the deck signals and score of deal
	UpdateScore(ctx context.Context, userID, dealID string, deal *domain.Deal) error
	UpdateStage(ctx context.Context, userID, dealID, stage string) error
}
