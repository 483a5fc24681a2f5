package cmd

import (
	"context"
	"fmt"
	"time"

	api "dealdesk-backend/cmd/api"
	authdelivery "dealdesk-backend/internal/auth/delivery"
	authrepo "dealdesk-backend/internal/auth/repository"
	authusecase "dealdesk-backend/internal/auth/usecase"
	"dealdesk-backend/internal/classifier"
	dealdelivery "dealdesk-backend/internal/deal/delivery"
	dealrepo "dealdesk-backend/internal/deal/repository"
	dealusecase "dealdesk-backend/internal/deal/usecase"
	emaildelivery "dealdesk-backend/internal/email/delivery"
	emailrepo "dealdesk-backend/internal/email/repository"
	emailusecase "dealdesk-backend/internal/email/usecase"
	maildelivery "dealdesk-backend/internal/mailaccount/delivery"
	mailrepo "dealdesk-backend/internal/mailaccount/repository"
	mailusecase "dealdesk-backend/internal/mailaccount/usecase"
	"dealdesk-backend/internal/notification"
	taskdelivery "dealdesk-backend/internal/task/delivery"
	taskrepo "dealdesk-backend/internal/task/repository"
	taskusecase "dealdesk-backend/internal/task/usecase"
	"dealdesk-backend/pkg/ai"
	"dealdesk-backend/pkg/cache"
	"dealdesk-backend/pkg/config"
	"dealdesk-backend/pkg/database"
	"dealdesk-backend/pkg/fcm"
	"dealdesk-backend/pkg/gmail"
	"dealdesk-backend/pkg/utils/crypto"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// App holds every service a process may run
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Queue      *taskrepo.RedisJobQueue
	Links      mailrepo.LinkRepository
	Accounts   mailusecase.MailAccountUsecase
	Sync       emailusecase.SyncService
	Jobs       taskusecase.JobUsecase
	Handlers   *taskusecase.Handlers
	Dispatcher *notification.Dispatcher

	HTTP *api.Handler
}

func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, "postgres"); err != nil {
		return nil, err
	}
	if err := database.GuardRetentionCap(db, cfg.Retention.Cap, cfg.Retention.AllowDecrease); err != nil {
		return nil, err
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	enc, err := crypto.NewTokenEncryption(key)
	if err != nil {
		return nil, err
	}
	if !enc.Enabled() {
		log.Warn().Msg("ENCRYPTION_KEY not set, tokens and message metadata are stored in plain text")
	}

	// Repositories
	userRepo := authrepo.NewUserRepository(db)
	fcmRepo := authrepo.NewFCMTokenRepository(db)
	links := mailrepo.NewLinkRepository(db, enc)
	classifications, err := emailrepo.NewClassificationRepository(db, cfg.Retention.Cap, enc)
	if err != nil {
		return nil, err
	}
	runs := emailrepo.NewSyncRunRepository(db)
	deals := dealrepo.NewDealRepository(db, enc)
	queue := taskrepo.NewRedisJobQueue(rdb, cfg.Queue.Name, cfg.Queue.DedupeTTL)

	// Model stage
	runtime := api.NewRuntimeSettings(cfg.AI.OllamaBaseURL, cfg.AI.OllamaModel)
	generator, err := ai.NewGenerator(ctx, ai.Config{
		Provider:         ai.ProviderType(cfg.AI.Provider),
		GeminiAPIKey:     cfg.AI.GeminiAPIKey,
		GeminiModel:      cfg.AI.GeminiModel,
		GetOllamaBaseURL: runtime.OllamaBaseURL,
		GetOllamaModel:   runtime.OllamaModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model provider: %w", err)
	}
	var model ai.Service
	modelName := "none"
	if generator != nil {
		model = ai.NewService(generator)
		modelName = generator.Name()
	}
	log.Info().Str("provider", modelName).Msg("model stage configured")

	rules, err := classifier.NewRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	breaker := classifier.NewCircuitBreaker(cfg.AI.QuotaCooldown)
	cls := classifier.New(rules, model, breaker, cfg.AI.Timeout)
	extractor, err := dealusecase.NewExtractor(cfg.Rules.DeckLinkPatterns)
	if err != nil {
		return nil, err
	}

	// Mail gateway and usecases
	gmailService := gmail.NewService(cfg.Google.ClientID, cfg.Google.ClientSecret)
	accounts := mailusecase.NewMailAccountUsecase(links, gmailService.OAuthConfig(cfg.Google.RedirectURI), gmailService, cfg.Google.PubSubTopic)

	var notifier emailusecase.DealNotifier
	if cfg.Firebase.Credentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.Firebase.Credentials)
		if err != nil {
			log.Warn().Err(err).Msg("fcm unavailable, deal notifications disabled")
		} else {
			notifier = notification.NewDealPusher(fcmRepo, fcmClient)
		}
	}

	syncService := emailusecase.NewSyncService(accounts, gmailService, classifications, cls, extractor, notifier, runs, emailusecase.SyncOptions{
		FullSyncMaxMessages: cfg.Sync.FullSyncMaxMessages,
		FullResyncInterval:  cfg.Sync.FullResyncInterval,
	})
	messages := emailusecase.NewMessageUsecase(classifications, accounts, gmailService, extractor, model)
	dealService := dealusecase.NewDealUsecase(deals, gmailService, accounts, extractor)
	auth := authusecase.NewAuthUsecase(userRepo, fcmRepo, cfg.JWT)
	jobs := taskusecase.NewJobUsecase(queue)
	handlers := taskusecase.NewHandlers(syncService, queue, accounts, classifications, taskusecase.HandlerOptions{
		RateLimitCooldown: cfg.Sync.RateLimitCooldown,
		WatchRenewBefore:  cfg.Sync.WatchRenewBefore,
	})
	dispatcher := notification.NewDispatcher(links, queue)

	var pushHandler gin.HandlerFunc
	if cfg.Google.PubSubTopic != "" {
		pushHandler = notification.PushHandler(dispatcher, cfg.Google.PushToken)
	}

	httpHandler := api.NewHandler(api.Deps{
		AuthUsecase:     auth,
		AuthHandler:     authdelivery.NewAuthHandler(auth),
		AccountHandler:  maildelivery.NewAccountHandler(accounts),
		MessageHandler:  emaildelivery.NewMessageHandler(messages),
		DealHandler:     dealdelivery.NewDealHandler(dealService),
		SyncHandler:     taskdelivery.NewSyncHandler(syncService, jobs, runs),
		SettingsHandler: api.NewSettingsHandler(runtime, ai.NewOllamaServiceWithGetters(runtime.OllamaBaseURL, runtime.OllamaModel), breaker, modelName),
		PushHandler:     pushHandler,
		Checks: map[string]api.HealthCheck{
			"postgres": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
	})

	return &App{
		Config:     cfg,
		DB:         db,
		Redis:      rdb,
		Queue:      queue,
		Links:      links,
		Accounts:   accounts,
		Sync:       syncService,
		Jobs:       jobs,
		Handlers:   handlers,
		Dispatcher: dispatcher,
		HTTP:       httpHandler,
	}, nil
}

// NewWorker builds a worker with every job handler registered
func (a *App) NewWorker() *taskusecase.Worker {
	w := taskusecase.NewWorker(a.Queue, taskusecase.WorkerOptions{
		Concurrency:  a.Config.Queue.Workers,
		JobTimeout:   a.Config.Queue.JobTimeout,
		MaxAttempts:  a.Config.Queue.MaxAttempts,
		RetryBackoff: a.Config.Queue.RetryBackoff,
		PromoteEvery: 5 * time.Second,
	})
	a.Handlers.Register(w)
	return w
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
