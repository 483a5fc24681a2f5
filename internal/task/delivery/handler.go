package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"dealdesk-backend/internal/email/repository"
	emailusecase "dealdesk-backend/internal/email/usecase"
	"dealdesk-backend/internal/task/domain"
	taskrepo "dealdesk-backend/internal/task/repository"
	"dealdesk-backend/internal/task/usecase"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SyncHandler exposes on-demand syncs and background job status
type SyncHandler struct {
	syncService emailusecase.SyncService
	jobUsecase  usecase.JobUsecase
	runs        repository.SyncRunRepository
}

func NewSyncHandler(syncService emailusecase.SyncService, jobUsecase usecase.JobUsecase, runs repository.SyncRunRepository) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		jobUsecase:  jobUsecase,
		runs:        runs,
	}
}

// SyncNow runs a sync inside the request
// POST /api/sync
func (h *SyncHandler) SyncNow(c *gin.Context) {
	userID := c.GetString("userID")

	result, err := h.syncService.Sync(c.Request.Context(), userID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, emailusecase.ErrAccountNotLinked):
		c.JSON(http.StatusConflict, gin.H{"error": "no mailbox linked", "code": "account_not_linked"})
	case errors.Is(err, emailusecase.ErrReauthRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "mailbox access revoked, reconnect the account", "code": "reconnect_required"})
	case errors.Is(err, emailusecase.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "mail provider rate limit, try again later"})
	case errors.Is(err, emailusecase.ErrBatchIncomplete):
		// Stored messages count, the rest is picked up by the next sync
		c.JSON(http.StatusAccepted, gin.H{"result": result, "error": err.Error()})
	default:
		log.Error().Err(err).Str("user_id", userID).Msg("sync request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
	}
}

// Enqueue queues a background job for the current user
// POST /api/sync/queue?type=sync_user
func (h *SyncHandler) Enqueue(c *gin.Context) {
	userID := c.GetString("userID")
	jobType := domain.JobType(c.DefaultQuery("type", string(domain.JobSyncUser)))

	state, queued, err := h.jobUsecase.Enqueue(c.Request.Context(), jobType, userID)
	if errors.Is(err, usecase.ErrUnknownJobType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to enqueue job")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue unavailable"})
		return
	}

	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"job": state, "queued": queued})
}

// GetJob returns the state of one of the user's jobs
// GET /api/sync/jobs/:id
func (h *SyncHandler) GetJob(c *gin.Context) {
	state, err := h.jobUsecase.Get(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if errors.Is(err, taskrepo.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

// History lists recent sync runs
// GET /api/sync/history?limit=20
func (h *SyncHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.runs.ListByUser(c.Request.Context(), c.GetString("userID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
