package delivery

import (
	"errors"
	"net/http"
	"strconv"

	emaildomain "dealdesk-backend/internal/email/domain"
	emaildto "dealdesk-backend/internal/email/dto"
	"dealdesk-backend/internal/email/repository"
	"dealdesk-backend/internal/email/usecase"
	mailrepo "dealdesk-backend/internal/mailaccount/repository"
	"dealdesk-backend/pkg/gmail"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type MessageHandler struct {
	messageUsecase usecase.MessageUsecase
}

func NewMessageHandler(messageUsecase usecase.MessageUsecase) *MessageHandler {
	return &MessageHandler{
		messageUsecase: messageUsecase,
	}
}

func (h *MessageHandler) List(c *gin.Context) {
	userID := c.GetString("userID")

	limit := 50
	offset := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	q := usecase.ListQuery{
		ListFilter: emaildomain.ListFilter{Limit: limit, Offset: offset},
		Query:      c.Query("q"),
	}
	if cat := c.Query("category"); cat != "" {
		parsed, ok := emaildomain.ParseCategory(cat)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
		q.Category = parsed
	}
	if starred := c.Query("starred"); starred != "" {
		v, err := strconv.ParseBool(starred)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "starred must be a boolean"})
			return
		}
		q.Starred = &v
	}

	messages, total, err := h.messageUsecase.List(c.Request.Context(), userID, q)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.MessagesResponse{
		Messages: messages,
		Limit:    limit,
		Offset:   offset,
		Total:    total,
	})
}

func (h *MessageHandler) Counts(c *gin.Context) {
	counts, err := h.messageUsecase.CountByCategory(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, emaildto.CountsResponse{Counts: counts})
}

func (h *MessageHandler) Get(c *gin.Context) {
	message, err := h.messageUsecase.Get(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Reclassify(c *gin.Context) {
	var req emaildto.ReclassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, ok := emaildomain.ParseCategory(req.Category)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}

	message, err := h.messageUsecase.Reclassify(c.Request.Context(), c.GetString("userID"), c.Param("id"), category)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) SetStarred(c *gin.Context) {
	var req emaildto.StarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	id := c.Param("id")
	if err := h.messageUsecase.SetStarred(c.Request.Context(), userID, id, *req.Starred); err != nil {
		respondError(c, err)
		return
	}

	message, err := h.messageUsecase.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) DraftReply(c *gin.Context) {
	var req emaildto.DraftRequest
	// The body is optional
	_ = c.ShouldBindJSON(&req)

	draft, err := h.messageUsecase.DraftReply(c.Request.Context(), c.GetString("userID"), c.Param("id"), req.Instructions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, emaildto.DraftResponse{Draft: draft})
}

func (h *MessageHandler) SendReply(c *gin.Context) {
	var req emaildto.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sentID, err := h.messageUsecase.SendReply(c.Request.Context(), c.GetString("userID"), c.Param("id"), req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, emaildto.ReplyResponse{MessageID: sentID})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrClassificationNotFound), errors.Is(err, gmail.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, mailrepo.ErrLinkNotFound):
		c.JSON(http.StatusConflict, gin.H{"error": "no mailbox linked", "code": "account_not_linked"})
	case errors.Is(err, gmail.ErrReauthRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "mailbox access revoked, reconnect the account", "code": "reconnect_required"})
	case errors.Is(err, gmail.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "mail provider rate limit, try again later"})
	case errors.Is(err, usecase.ErrInvalidCategory):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("message request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
