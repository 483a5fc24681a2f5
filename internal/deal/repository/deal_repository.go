package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealdesk-backend/internal/deal/domain"
	"dealdesk-backend/pkg/utils/crypto"

	"gorm.io/gorm"
)

var ErrDealNotFound = errors.New("deal not found")

type dealRepository struct {
	db  *gorm.DB
	enc *crypto.TokenEncryption
}

func NewDealRepository(db *gorm.DB, enc *crypto.TokenEncryption) DealRepository {
	return &dealRepository{db: db, enc: enc}
}

func (r *dealRepository) joined(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("deals").
		Select(`deals.*, mc.message_id, mc.thread_id, mc.subject, mc.sender, mc.snippet, mc.classified_at`).
		Joins("JOIN message_classifications mc ON mc.id = deals.classification_id").
		Where("deals.user_id = ?", userID)
}

func (r *dealRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DealWithMessage, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Deal{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	var deals []*domain.DealWithMessage
	err := r.joined(ctx, userID).
		Order("deals.score DESC, mc.classified_at DESC").
		Limit(limit).Offset(offset).
		Scan(&deals).Error
	if err != nil {
		return nil, 0, err
	}

	for _, d := range deals {
		if err := r.open(d); err != nil {
			return nil, 0, err
		}
	}
	return deals, total, nil
}

func (r *dealRepository) FindByID(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error) {
	var deals []*domain.DealWithMessage
	if err := r.joined(ctx, userID).Where("deals.id = ?", dealID).Limit(1).Scan(&deals).Error; err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return nil, ErrDealNotFound
	}
	if err := r.open(deals[0]); err != nil {
		return nil, err
	}
	return deals[0], nil
}

func (r *dealRepository) UpdateScore(ctx context.Context, userID, dealID string, deal *domain.Deal) error {
	return r.update(ctx, userID, dealID, map[string]interface{}{
		"deck_url":        deal.DeckURL,
		"has_pdf":         deal.HasPDF,
		"score":           deal.Score,
		"score_rationale": deal.ScoreRationale,
	})
}

func (r *dealRepository) UpdateStage(ctx context.Context, userID, dealID, stage string) error {
	return r.update(ctx, userID, dealID, map[string]interface{}{"stage": stage})
}

func (r *dealRepository) update(ctx context.Context, userID, dealID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Deal{}).
		Where("id = ? AND user_id = ?", dealID, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDealNotFound
	}
	return nil
}

func (r *dealRepository) open(d *domain.DealWithMessage) error {
	for _, f := range []*string{&d.Subject, &d.Sender, &d.Snippet} {
		plain, err := r.enc.Decrypt(*f)
		if err != nil {
			return fmt.Errorf("failed to decrypt deal message: %w", err)
		}
		*f = plain
	}
	return nil
}
