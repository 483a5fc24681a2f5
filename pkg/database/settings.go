package database

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const retentionCapKey = "retention_cap"

// ErrRetentionCapLowered is returned when the configured cap is below the one
// last applied and the operator has not opted in to shrinking retention.
var ErrRetentionCapLowered = errors.New("retention cap lowered")

// AppSetting is a key/value row for deployment-wide state.
type AppSetting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AppSetting) TableName() string {
	return "app_settings"
}

// GuardRetentionCap compares the configured cap with the last applied one.
// A lower cap would silently delete rows on the next insert of every user, so
// it is refused unless allowDecrease is set for this run.
func GuardRetentionCap(db *gorm.DB, configured int, allowDecrease bool) error {
	if configured <= 0 {
		return fmt.Errorf("invalid retention cap %d", configured)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var setting AppSetting
		err := tx.Where("key = ?", retentionCapKey).First(&setting).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err == nil {
			previous, convErr := strconv.Atoi(setting.Value)
			if convErr != nil {
				return fmt.Errorf("stored retention cap %q is not a number: %w", setting.Value, convErr)
			}
			if configured < previous {
				if !allowDecrease {
					return fmt.Errorf("%w: configured %d, previously %d; set RETENTION_ALLOW_DECREASE=true to apply", ErrRetentionCapLowered, configured, previous)
				}
				log.Warn().Int("previous", previous).Int("configured", configured).Msg("retention cap decreased by operator")
			}
			if configured == previous {
				return nil
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&AppSetting{
			Key:       retentionCapKey,
			Value:     strconv.Itoa(configured),
			UpdatedAt: time.Now().UTC(),
		}).Error
	})
}

// StoredRetentionCap returns the last applied cap, or 0 if none was recorded.
func StoredRetentionCap(db *gorm.DB) (int, error) {
	var setting AppSetting
	err := db.Where("key = ?", retentionCapKey).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.Atoi(setting.Value)
}
