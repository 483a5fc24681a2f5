package delivery

import (
	"errors"
	"net/http"

	"dealdesk-backend/internal/mailaccount/repository"
	"dealdesk-backend/internal/mailaccount/usecase"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type AccountHandler struct {
	accountUsecase usecase.MailAccountUsecase
}

func NewAccountHandler(accountUsecase usecase.MailAccountUsecase) *AccountHandler {
	return &AccountHandler{
		accountUsecase: accountUsecase,
	}
}

type connectRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state"`
}

// GET /api/account/google/url
func (h *AccountHandler) AuthURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": h.accountUsecase.AuthURL(c.GetString("userID"))})
}

// POST /api/account/google/connect
func (h *AccountHandler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	link, err := h.accountUsecase.Connect(c.Request.Context(), userID, req.Code, req.State)
	if errors.Is(err, usecase.ErrInvalidState) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to link mailbox")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to link mailbox"})
		return
	}
	c.JSON(http.StatusOK, link)
}

// GET /api/account
func (h *AccountHandler) Get(c *gin.Context) {
	link, err := h.accountUsecase.Get(c.Request.Context(), c.GetString("userID"))
	if errors.Is(err, repository.ErrLinkNotFound) {
		c.JSON(http.StatusOK, gin.H{"linked": false})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": true, "account": link})
}

// DELETE /api/account
func (h *AccountHandler) Disconnect(c *gin.Context) {
	err := h.accountUsecase.Disconnect(c.Request.Context(), c.GetString("userID"))
	if errors.Is(err, repository.ErrLinkNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no mailbox linked"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "mailbox disconnected"})
}
