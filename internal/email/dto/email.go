package dto

import (
	emaildomain "dealdesk-backend/internal/email/domain"
)

type MessagesResponse struct {
	Messages []*emaildomain.MessageClassification `json:"messages"`
	Limit    int                                  `json:"limit"`
	Offset   int                                  `json:"offset"`
	Total    int64                                `json:"total"`
}

type CountsResponse struct {
	Counts map[emaildomain.Category]int64 `json:"counts"`
}

type ReclassifyRequest struct {
	Category string `json:"category" binding:"required"`
}

type StarRequest struct {
	Starred *bool `json:"starred" binding:"required"`
}

type DraftRequest struct {
	Instructions string `json:"instructions"`
}

type DraftResponse struct {
	Draft string `json:"draft"`
}

type ReplyRequest struct {
	Body string `json:"body" binding:"required"`
}

type ReplyResponse struct {
	MessageID string `json:"message_id"`
}
