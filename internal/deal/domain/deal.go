package domain

import "time"

// Deal is extracted from a deal_flow classification. Exactly one per
// classification; deleted together with it.
type Deal struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	ClassificationID string    `json:"classification_id" gorm:"not null"`
	UserID           string    `json:"-" gorm:"not null"`
	FounderName      string    `json:"founder_name"`
	FounderEmail     string    `json:"founder_email"`
	Company          string    `json:"company"`
	DeckURL          string    `json:"deck_url,omitempty"`
	HasPDF           bool      `json:"has_pdf" gorm:"column:has_pdf"`
	Stage            string    `json:"stage,omitempty"`
	Score            int       `json:"score"`
	ScoreRationale   string    `json:"score_rationale,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Deal) TableName() string {
	return "deals"
}

// DealWithMessage is a deal joined with the message it came from.
type DealWithMessage struct {
	Deal
	MessageID    string    `json:"message_id"`
	ThreadID     string    `json:"thread_id"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	Snippet      string    `json:"snippet"`
	ClassifiedAt time.Time `json:"classified_at"`
}
