package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/pkg/utils/crypto"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLinkNotFound = errors.New("mail account not linked")

type linkRepository struct {
	db  *gorm.DB
	enc *crypto.TokenEncryption
}

func NewLinkRepository(db *gorm.DB, enc *crypto.TokenEncryption) LinkRepository {
	return &linkRepository{db: db, enc: enc}
}

func (r *linkRepository) Upsert(ctx context.Context, link *domain.Link) error {
	now := time.Now().UTC()
	access, err := r.enc.Encrypt(link.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := r.enc.Encrypt(link.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	row := *link
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	row.AccessToken = access
	row.RefreshToken = refresh
	row.Status = domain.StatusActive
	row.CreatedAt = now
	row.UpdatedAt = now

	updates := []string{"email_address", "access_token", "token_expiry", "status", "updated_at"}
	// Google only returns a refresh token on first consent
	if link.RefreshToken != "" {
		updates = append(updates, "refresh_token")
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&row).Error
	if err != nil {
		return err
	}

	stored, err := r.FindByUserID(ctx, link.UserID)
	if err != nil {
		return err
	}
	*link = *stored
	return nil
}

func (r *linkRepository) find(ctx context.Context, query string, arg interface{}) (*domain.Link, error) {
	var link domain.Link
	err := r.db.WithContext(ctx).Where(query, arg).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	if err := r.open(&link); err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) FindByUserID(ctx context.Context, userID string) (*domain.Link, error) {
	return r.find(ctx, "user_id = ?", userID)
}

func (r *linkRepository) FindByEmail(ctx context.Context, email string) (*domain.Link, error) {
	return r.find(ctx, "LOWER(email_address) = LOWER(?)", email)
}

func (r *linkRepository) ListActive(ctx context.Context) ([]*domain.Link, error) {
	var links []*domain.Link
	err := r.db.WithContext(ctx).Where("status = ?", domain.StatusActive).Order("created_at").Find(&links).Error
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if err := r.open(link); err != nil {
			return nil, err
		}
	}
	return links, nil
}

func (r *linkRepository) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	access, err := r.enc.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	fields := map[string]interface{}{
		"access_token": access,
		"updated_at":   time.Now().UTC(),
	}
	if !expiry.IsZero() {
		fields["token_expiry"] = expiry.UTC()
	}
	if refreshToken != "" {
		refresh, err := r.enc.Encrypt(refreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		fields["refresh_token"] = refresh
	}
	return r.update(ctx, userID, fields)
}

func (r *linkRepository) UpdateSyncState(ctx context.Context, userID string, state domain.SyncState) error {
	syncedAt := state.SyncedAt.UTC()
	fields := map[string]interface{}{
		"history_id":     state.HistoryID,
		"last_synced_at": syncedAt,
		"updated_at":     time.Now().UTC(),
	}
	if state.FullSync {
		fields["last_full_sync_at"] = syncedAt
	}
	return r.update(ctx, userID, fields)
}

func (r *linkRepository) MarkReauthRequired(ctx context.Context, userID string) error {
	return r.update(ctx, userID, map[string]interface{}{
		"status":     domain.StatusReauthRequired,
		"updated_at": time.Now().UTC(),
	})
}

func (r *linkRepository) UpdateWatchExpiry(ctx context.Context, userID string, expiresAt time.Time) error {
	return r.update(ctx, userID, map[string]interface{}{
		"watch_expires_at": expiresAt.UTC(),
		"updated_at":       time.Now().UTC(),
	})
}

func (r *linkRepository) Delete(ctx context.Context, userID string) error {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Link{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) update(ctx context.Context, userID string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Link{}).Where("user_id = ?", userID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) open(link *domain.Link) error {
	access, err := r.enc.Decrypt(link.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := r.enc.Decrypt(link.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	link.AccessToken = access
	link.RefreshToken = refresh
	return nil
}
