package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"dealdesk-backend/internal/deal/repository"
	"dealdesk-backend/internal/deal/usecase"
	mailrepo "dealdesk-backend/internal/mailaccount/repository"
	"dealdesk-backend/pkg/gmail"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type DealHandler struct {
	dealUsecase usecase.DealUsecase
}

func NewDealHandler(dealUsecase usecase.DealUsecase) *DealHandler {
	return &DealHandler{
		dealUsecase: dealUsecase,
	}
}

type updateStageRequest struct {
	Stage string `json:"stage" binding:"required"`
}

// GET /api/deals
func (h *DealHandler) List(c *gin.Context) {
	limit := 50
	offset := 0
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 && parsed <= 200 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(c.Query("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	deals, total, err := h.dealUsecase.List(c.Request.Context(), c.GetString("userID"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deals":  deals,
		"limit":  limit,
		"offset": offset,
		"total":  total,
	})
}

// GET /api/deals/:id
func (h *DealHandler) Get(c *gin.Context) {
	deal, err := h.dealUsecase.Get(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// POST /api/deals/:id/rescore
func (h *DealHandler) Rescore(c *gin.Context) {
	deal, err := h.dealUsecase.Rescore(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

// PATCH /api/deals/:id/stage
func (h *DealHandler) UpdateStage(c *gin.Context) {
	var req updateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deal, err := h.dealUsecase.UpdateStage(c.Request.Context(), c.GetString("userID"), c.Param("id"), req.Stage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrDealNotFound), errors.Is(err, gmail.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "deal not found"})
	case errors.Is(err, usecase.ErrInvalidStage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "stages": usecase.ValidStages})
	case errors.Is(err, mailrepo.ErrLinkNotFound):
		c.JSON(http.StatusConflict, gin.H{"error": "no mailbox linked", "code": "account_not_linked"})
	case errors.Is(err, gmail.ErrReauthRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "mailbox access revoked, reconnect the account", "code": "reconnect_required"})
	case errors.Is(err, gmail.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "mail provider rate limit, try again later"})
	default:
		log.Error().Err(err).Str("user_id", c.GetString("userID")).Msg("deal request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
