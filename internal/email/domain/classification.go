package domain

import (
	"strings"
	"time"

	dealdomain "dealdesk-backend/internal/deal/domain"
)

// Category is the fixed taxonomy every message is sorted into
type Category string

const (
	CategoryDealFlow   Category = "deal_flow"
	CategoryNetworking Category = "networking"
	CategoryHiring     Category = "hiring"
	CategoryGeneral    Category = "general"
	CategorySpam       Category = "spam"
)

// Categories lists the taxonomy in display order
var Categories = []Category{
	CategoryDealFlow,
	CategoryNetworking,
	CategoryHiring,
	CategoryGeneral,
	CategorySpam,
}

// ParseCategory accepts any casing and surrounding whitespace.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Stage records which classifier stage produced the category
type Stage string

const (
	StageDeterministic Stage = "deterministic"
	StageModel         Stage = "model"
	StageFallback      Stage = "fallback"
	StageManual        Stage = "manual"
)

// MessageClassification is the one row kept per (user, message)
type MessageClassification struct {
	ID           string      `json:"id" gorm:"primaryKey"`
	UserID       string      `json:"-" gorm:"not null"`
	MessageID    string      `json:"message_id" gorm:"not null"`
	ThreadID     string      `json:"thread_id"`
	Subject      string      `json:"subject"`
	Sender       string      `json:"sender"`
	SenderName   string      `json:"sender_name"`
	Snippet      string      `json:"snippet"`
	Category     Category    `json:"category" gorm:"not null"`
	Tags         StringArray `json:"tags" gorm:"type:text"`
	Confidence   float64     `json:"confidence" gorm:"not null"`
	Rationale    string      `json:"rationale,omitempty"`
	Stage        Stage       `json:"stage" gorm:"not null"`
	IsStarred    bool        `json:"is_starred"`
	RepliedAt    *time.Time  `json:"replied_at,omitempty"`
	ReceivedAt   *time.Time  `json:"received_at,omitempty"`
	ClassifiedAt time.Time   `json:"classified_at" gorm:"not null"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	Deal *dealdomain.Deal `json:"deal,omitempty" gorm:"-"`
}

func (MessageClassification) TableName() string {
	return "message_classifications"
}

// InsertOutcome is the result of an insert guarded by the unique key
type InsertOutcome int

const (
	Inserted InsertOutcome = iota + 1
	AlreadyExists
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// ListFilter narrows a user's classification listing
type ListFilter struct {
	Category Category
	Starred  *bool
	Limit    int
	Offset   int
}
