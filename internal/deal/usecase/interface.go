package usecase

import (
	"context"

	"dealdesk-backend/internal/deal/domain"
)

type DealUsecase interface {
	List(ctx context.Context, userID string, limit, offset int) ([]*domain.DealWithMessage, int64, error)
	Get(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error)
	// Rescore refetches the source message and recomputes the score
	Rescore(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error)
	UpdateStage(ctx context.Context, userID, dealID, stage string) (*domain.DealWithMessage, error)
}
