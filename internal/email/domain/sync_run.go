package domain

import "time"

// SyncRun is the log entry written after every sync attempt of a user
type SyncRun struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"-" gorm:"not null"`
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	Listed     int       `json:"listed"`
	Inserted   int       `json:"inserted"`
	Failed     int       `json:"failed"`
	Deals      int       `json:"deals"`
	HistoryID  string    `json:"history_id"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
