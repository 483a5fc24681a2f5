package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	authdelivery "dealdesk-backend/internal/auth/delivery"
	authusecase "dealdesk-backend/internal/auth/usecase"
	dealdelivery "dealdesk-backend/internal/deal/delivery"
	emaildelivery "dealdesk-backend/internal/email/delivery"
	maildelivery "dealdesk-backend/internal/mailaccount/delivery"
	taskdelivery "dealdesk-backend/internal/task/delivery"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Deps are the services the HTTP API is built on
type Deps struct {
	AuthUsecase     authusecase.AuthUsecase
	AuthHandler     *authdelivery.AuthHandler
	AccountHandler  *maildelivery.AccountHandler
	MessageHandler  *emaildelivery.MessageHandler
	DealHandler     *dealdelivery.DealHandler
	SyncHandler     *taskdelivery.SyncHandler
	SettingsHandler *SettingsHandler
	// PushHandler receives Pub/Sub pushes. Nil disables the route.
	PushHandler gin.HandlerFunc
	Checks      map[string]HealthCheck
}

type Handler struct {
	authUsecase     authusecase.AuthUsecase
	authHandler     *authdelivery.AuthHandler
	accountHandler  *maildelivery.AccountHandler
	messageHandler  *emaildelivery.MessageHandler
	dealHandler     *dealdelivery.DealHandler
	syncHandler     *taskdelivery.SyncHandler
	settingsHandler *SettingsHandler
	pushHandler     gin.HandlerFunc
	checks          map[string]HealthCheck
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		authUsecase:     deps.AuthUsecase,
		authHandler:     deps.AuthHandler,
		accountHandler:  deps.AccountHandler,
		messageHandler:  deps.MessageHandler,
		dealHandler:     deps.DealHandler,
		syncHandler:     deps.SyncHandler,
		settingsHandler: deps.SettingsHandler,
		pushHandler:     deps.PushHandler,
		checks:          deps.Checks,
	}
}

// Engine builds the gin engine with middleware and routes
func (h *Handler) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests
func (h *Handler) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Info().Msg("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.FullPath() == "/api/health" || c.FullPath() == "/metrics" {
			return
		}
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("user_id", c.GetString("userID")).
			Msg("http request")
	}
}
