package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	dealdomain "dealdesk-backend/internal/deal/domain"
	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/pkg/database"
	"dealdesk-backend/pkg/metrics"
	"dealdesk-backend/pkg/utils/crypto"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrClassificationNotFound is returned when a user has no row for a message
var ErrClassificationNotFound = errors.New("classification not found")

// classificationRepository implements ClassificationRepository interface
type classificationRepository struct {
	db           *gorm.DB
	retentionCap int
	enc          *crypto.TokenEncryption
}

// NewClassificationRepository creates a repository that keeps at most
// retentionCap rows per user. The cap comes from configuration only.
func NewClassificationRepository(db *gorm.DB, retentionCap int, enc *crypto.TokenEncryption) (ClassificationRepository, error) {
	if retentionCap <= 0 {
		return nil, fmt.Errorf("retention cap must be positive, got %d", retentionCap)
	}
	return &classificationRepository{
		db:           db,
		retentionCap: retentionCap,
		enc:          enc,
	}, nil
}

func (r *classificationRepository) RetentionCap() int {
	return r.retentionCap
}

func (r *classificationRepository) InsertIfAbsent(ctx context.Context, c *emaildomain.MessageClassification, deal *dealdomain.Deal) (emaildomain.InsertOutcome, error) {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ClassifiedAt.IsZero() {
		c.ClassifiedAt = now
	}
	c.ClassifiedAt = c.ClassifiedAt.UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	row, err := r.seal(c)
	if err != nil {
		return 0, err
	}

	var pruned int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		if deal != nil {
			if deal.ID == "" {
				deal.ID = uuid.New().String()
			}
			deal.ClassificationID = row.ID
			deal.UserID = row.UserID
			deal.CreatedAt = now
			deal.UpdatedAt = now
			if err := tx.Create(deal).Error; err != nil {
				return fmt.Errorf("failed to insert deal: %w", err)
			}
		}

		n, err := prune(tx, c.UserID, r.retentionCap)
		if err != nil {
			return fmt.Errorf("failed to enforce retention: %w", err)
		}
		pruned = n
		return nil
	})

	if err != nil {
		if database.IsDuplicateKey(err) {
			metrics.DuplicateInserts.Inc()
			return emaildomain.AlreadyExists, nil
		}
		return 0, err
	}

	if pruned > 0 {
		metrics.RetentionPruned.Add(float64(pruned))
		log.Debug().Str("user_id", c.UserID).Int64("pruned", pruned).Msg("retention cap enforced")
	}
	if deal != nil {
		c.Deal = deal
	}
	return emaildomain.Inserted, nil
}

// prune deletes the user's rows beyond cap, oldest classified_at first, and
// their deals. It runs inside the caller's transaction.
func prune(tx *gorm.DB, userID string, cap int) (int64, error) {
	var evict []string
	err := tx.Raw(`
		SELECT id FROM message_classifications
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM message_classifications
			WHERE user_id = ?
			ORDER BY classified_at DESC, id DESC
			LIMIT ?
		)`, userID, userID, cap).Scan(&evict).Error
	if err != nil {
		return 0, err
	}
	if len(evict) == 0 {
		return 0, nil
	}

	if err := tx.Where("classification_id IN ?", evict).Delete(&dealdomain.Deal{}).Error; err != nil {
		return 0, err
	}
	res := tx.Where("user_id = ? AND id IN ?", userID, evict).Delete(&emaildomain.MessageClassification{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *classificationRepository) Prune(ctx context.Context, userID string) (int64, error) {
	var pruned int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := prune(tx, userID, r.retentionCap)
		pruned = n
		return err
	})
	if err == nil && pruned > 0 {
		metrics.RetentionPruned.Add(float64(pruned))
	}
	return pruned, err
}

func (r *classificationRepository) ExistingMessageIDs(ctx context.Context, userID string, messageIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(messageIDs))
	if len(messageIDs) == 0 {
		return existing, nil
	}

	// Keep the IN list bounded for large full listings
	const chunk = 500
	for start := 0; start < len(messageIDs); start += chunk {
		end := start + chunk
		if end > len(messageIDs) {
			end = len(messageIDs)
		}

		var found []string
		err := r.db.WithContext(ctx).Model(&emaildomain.MessageClassification{}).
			Where("user_id = ? AND message_id IN ?", userID, messageIDs[start:end]).
			Pluck("message_id", &found).Error
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (r *classificationRepository) ListByUser(ctx context.Context, userID string, filter emaildomain.ListFilter) ([]*emaildomain.MessageClassification, int64, error) {
	query := r.db.WithContext(ctx).Model(&emaildomain.MessageClassification{}).Where("user_id = ?", userID)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Starred != nil {
		query = query.Where("is_starred = ?", *filter.Starred)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []*emaildomain.MessageClassification
	err := query.Order("classified_at DESC, id DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	if err := r.openAll(rows); err != nil {
		return nil, 0, err
	}
	if err := r.attachDeals(ctx, rows); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *classificationRepository) ListAllByUser(ctx context.Context, userID string) ([]*emaildomain.MessageClassification, error) {
	var rows []*emaildomain.MessageClassification
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("classified_at DESC, id DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if err := r.openAll(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *classificationRepository) FindByMessageID(ctx context.Context, userID, messageID string) (*emaildomain.MessageClassification, error) {
	var row emaildomain.MessageClassification
	err := r.db.WithContext(ctx).Where("user_id = ? AND message_id = ?", userID, messageID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClassificationNotFound
		}
		return nil, err
	}
	if err := r.open(&row); err != nil {
		return nil, err
	}
	if err := r.attachDeals(ctx, []*emaildomain.MessageClassification{&row}); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *classificationRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&emaildomain.MessageClassification{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *classificationRepository) CountByCategory(ctx context.Context, userID string) (map[emaildomain.Category]int64, error) {
	var rows []struct {
		Category emaildomain.Category
		Count    int64
	}
	err := r.db.WithContext(ctx).Model(&emaildomain.MessageClassification{}).
		Select("category, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[emaildomain.Category]int64, len(emaildomain.Categories))
	for _, c := range emaildomain.Categories {
		counts[c] = 0
	}
	for _, row := range rows {
		counts[row.Category] = row.Count
	}
	return counts, nil
}

func (r *classificationRepository) Reclassify(ctx context.Context, userID, messageID string, category emaildomain.Category, deal *dealdomain.Deal) (*emaildomain.MessageClassification, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("invalid category %q", category)
	}

	var updated emaildomain.MessageClassification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND message_id = ?", userID, messageID).First(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClassificationNotFound
			}
			return err
		}

		now := time.Now().UTC()
		err := tx.Model(&emaildomain.MessageClassification{}).Where("id = ?", updated.ID).
			Updates(map[string]interface{}{
				"category":   category,
				"stage":      emaildomain.StageManual,
				"confidence": 1.0,
				"rationale":  "set by user",
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}
		updated.Category = category
		updated.Stage = emaildomain.StageManual
		updated.Confidence = 1.0
		updated.Rationale = "set by user"
		updated.UpdatedAt = now

		if category != emaildomain.CategoryDealFlow {
			return tx.Where("classification_id = ?", updated.ID).Delete(&dealdomain.Deal{}).Error
		}

		var existing int64
		if err := tx.Model(&dealdomain.Deal{}).Where("classification_id = ?", updated.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 || deal == nil {
			return nil
		}
		deal.ID = uuid.New().String()
		deal.ClassificationID = updated.ID
		deal.UserID = userID
		deal.CreatedAt = now
		deal.UpdatedAt = now
		return tx.Create(deal).Error
	})
	if err != nil {
		return nil, err
	}

	if err := r.open(&updated); err != nil {
		return nil, err
	}
	if err := r.attachDeals(ctx, []*emaildomain.MessageClassification{&updated}); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *classificationRepository) SetStarred(ctx context.Context, userID, messageID string, starred bool) error {
	res := r.db.WithContext(ctx).Model(&emaildomain.MessageClassification{}).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Updates(map[string]interface{}{"is_starred": starred, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClassificationNotFound
	}
	return nil
}

func (r *classificationRepository) MarkReplied(ctx context.Context, userID, messageID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&emaildomain.MessageClassification{}).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Updates(map[string]interface{}{"replied_at": at.UTC(), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClassificationNotFound
	}
	return nil
}

func (r *classificationRepository) attachDeals(ctx context.Context, rows []*emaildomain.MessageClassification) error {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Category == emaildomain.CategoryDealFlow {
			ids = append(ids, row.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var deals []*dealdomain.Deal
	if err := r.db.WithContext(ctx).Where("classification_id IN ?", ids).Find(&deals).Error; err != nil {
		return err
	}
	byClassification := make(map[string]*dealdomain.Deal, len(deals))
	for _, d := range deals {
		byClassification[d.ClassificationID] = d
	}
	for _, row := range rows {
		row.Deal = byClassification[row.ID]
	}
	return nil
}

// seal returns a copy with the message metadata encrypted.
func (r *classificationRepository) seal(c *emaildomain.MessageClassification) (*emaildomain.MessageClassification, error) {
	row := *c
	row.Deal = nil
	fields := []*string{&row.Subject, &row.Sender, &row.SenderName, &row.Snippet}
	for _, f := range fields {
		sealed, err := r.enc.Encrypt(*f)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt message metadata: %w", err)
		}
		*f = sealed
	}
	return &row, nil
}

func (r *classificationRepository) open(c *emaildomain.MessageClassification) error {
	fields := []*string{&c.Subject, &c.Sender, &c.SenderName, &c.Snippet}
	for _, f := range fields {
		plain, err := r.enc.Decrypt(*f)
		if err != nil {
			return fmt.Errorf("failed to decrypt message metadata: %w", err)
		}
		*f = plain
	}
	return nil
}

func (r *classificationRepository) openAll(rows []*emaildomain.MessageClassification) error {
	for _, row := range rows {
		if err := r.open(row); err != nil {
			return err
		}
	}
	return nil
}
