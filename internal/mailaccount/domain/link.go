package domain

import "time"

// LinkStatus tracks whether the stored grant can still be used
type LinkStatus string

const (
	StatusActive         LinkStatus = "active"
	StatusReauthRequired LinkStatus = "reauth_required"
)

// Link is the one mailbox connected to a user. Tokens are stored encrypted;
// the repository decrypts them on read.
type Link struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	UserID         string     `json:"-" gorm:"not null"`
	EmailAddress   string     `json:"email_address" gorm:"not null"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiry    *time.Time `json:"-"`
	HistoryID      string     `json:"history_id"`
	Status         LinkStatus `json:"status"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty"`
	WatchExpiresAt *time.Time `json:"watch_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Link) TableName() string {
	return "mail_account_links"
}

// SyncState is written after a fully processed batch.
type SyncState struct {
	HistoryID string
	SyncedAt  time.Time
	FullSync  bool
}
