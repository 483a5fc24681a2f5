package repository

import (
	"context"

	emaildomain "dealdesk-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultSyncRunsKept = 50

type syncRunRepository struct {
	db   *gorm.DB
	keep int
}

func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &syncRunRepository{db: db, keep: defaultSyncRunsKept}
}

func (r *syncRunRepository) Record(ctx context.Context, run *emaildomain.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		keep := tx.Model(&emaildomain.SyncRun{}).
			Select("id").
			Where("user_id = ?", run.UserID).
			Order("started_at DESC, id DESC").
			Limit(r.keep)
		return tx.Where("user_id = ? AND id NOT IN (?)", run.UserID, keep).
			Delete(&emaildomain.SyncRun{}).Error
	})
}

func (r *syncRunRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*emaildomain.SyncRun, error) {
	if limit <= 0 || limit > r.keep {
		limit = r.keep
	}
	var runs []*emaildomain.SyncRun
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
