package api

import (
	"context"
	"net/http"
	"time"

	"dealdesk-backend/internal/auth/delivery"
	"dealdesk-backend/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

func SetupRoutes(r *gin.Engine, h *Handler) {
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.GET("/ready", h.ready)

		// Pub/Sub authenticates with the push token, not a user session
		if h.pushHandler != nil {
			api.POST("/pubsub/push", h.pushHandler)
		}

		auth := api.Group("/auth")
		{
			auth.POST("/register", h.authHandler.Register)
			auth.POST("/login", h.authHandler.Login)
			auth.POST("/refresh", h.authHandler.Refresh)
			auth.POST("/logout", h.authHandler.Logout)
			auth.GET("/me", delivery.AuthMiddleware(h.authUsecase), h.authHandler.Me)
			auth.POST("/devices", delivery.AuthMiddleware(h.authUsecase), h.authHandler.RegisterDevice)
			auth.DELETE("/devices", delivery.AuthMiddleware(h.authUsecase), h.authHandler.UnregisterDevice)
		}

		protected := api.Group("")
		protected.Use(delivery.AuthMiddleware(h.authUsecase))

		account := protected.Group("/account")
		{
			account.GET("", h.accountHandler.Get)
			account.DELETE("", h.accountHandler.Disconnect)
			account.GET("/google/url", h.accountHandler.AuthURL)
			account.POST("/google/connect", h.accountHandler.Connect)
		}

		messages := protected.Group("/messages")
		{
			messages.GET("", h.messageHandler.List)
			messages.GET("/counts", h.messageHandler.Counts)
			messages.GET("/:id", h.messageHandler.Get)
			messages.PATCH("/:id/category", h.messageHandler.Reclassify)
			messages.PATCH("/:id/star", h.messageHandler.SetStarred)
			messages.POST("/:id/draft", h.messageHandler.DraftReply)
			messages.POST("/:id/reply", h.messageHandler.SendReply)
		}

		deals := protected.Group("/deals")
		{
			deals.GET("", h.dealHandler.List)
			deals.GET("/:id", h.dealHandler.Get)
			deals.POST("/:id/rescore", h.dealHandler.Rescore)
			deals.PATCH("/:id/stage", h.dealHandler.UpdateStage)
		}

		sync := protected.Group("/sync")
		{
			sync.POST("", h.syncHandler.SyncNow)
			sync.POST("/queue", h.syncHandler.Enqueue)
			sync.GET("/jobs/:id", h.syncHandler.GetJob)
			sync.GET("/history", h.syncHandler.History)
		}

		settings := protected.Group("/settings")
		{
			settings.GET("/model", h.settingsHandler.ModelStatus)
			settings.GET("/ollama", h.settingsHandler.GetOllama)
			settings.PUT("/ollama", h.settingsHandler.UpdateOllama)
			settings.POST("/ollama/test", h.settingsHandler.TestOllama)
		}
	}
}

// ready runs every health check
// GET /api/ready
func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("readiness check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	c.JSON(status, gin.H{"checks": checks})
}
