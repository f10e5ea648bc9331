package main

import (
	"context"
	"errors"
	"log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/CafeIT25/pmo-agent/cmd/api"
	emaildelivery "github.com/CafeIT25/pmo-agent/internal/email/delivery"
	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
	emailrepo "github.com/CafeIT25/pmo-agent/internal/email/repository"
	"github.com/CafeIT25/pmo-agent/internal/email/scheduler"
	emailusecase "github.com/CafeIT25/pmo-agent/internal/email/usecase"
	"github.com/CafeIT25/pmo-agent/internal/jobs"
	"github.com/CafeIT25/pmo-agent/internal/notification"
	recusecase "github.com/CafeIT25/pmo-agent/internal/reconcile/usecase"
	taskdelivery "github.com/CafeIT25/pmo-agent/internal/task/delivery"
	taskdomain "github.com/CafeIT25/pmo-agent/internal/task/domain"
	taskrepo "github.com/CafeIT25/pmo-agent/internal/task/repository"
	taskusecase "github.com/CafeIT25/pmo-agent/internal/task/usecase"
	usagedomain "github.com/CafeIT25/pmo-agent/internal/usage/domain"
	usagerepo "github.com/CafeIT25/pmo-agent/internal/usage/repository"
	"github.com/CafeIT25/pmo-agent/pkg/ai"
	"github.com/CafeIT25/pmo-agent/pkg/config"
	"github.com/CafeIT25/pmo-agent/pkg/database"
	"github.com/CafeIT25/pmo-agent/pkg/gmail"
	"github.com/CafeIT25/pmo-agent/pkg/imap"
	"github.com/CafeIT25/pmo-agent/pkg/outlook"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&emaildomain.MailAccount{},
		&emaildomain.Email{},
		&emaildomain.SyncJob{},
		&emaildomain.ExcludeDomain{},
		&taskdomain.Task{},
		&taskdomain.TaskHistory{},
		&taskdomain.AISupport{},
		&usagedomain.AIUsage{},
	); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// Repositories
	emailRepository := emailrepo.NewEmailRepository(db)
	accountRepository := emailrepo.NewAccountRepository(db)
	syncJobRepository := emailrepo.NewSyncJobRepository(db)
	excludeRepository := emailrepo.NewExcludeDomainRepository(db)
	taskRepository := taskrepo.NewTaskRepository(db)
	historyRepository := taskrepo.NewHistoryRepository(db)
	supportRepository := taskrepo.NewAISupportRepository(db)
	usageRepository := usagerepo.NewUsageRepository(db)

	// Mail providers
	providers := map[emaildomain.MailProviderType]emaildomain.MailProvider{
		emaildomain.ProviderGoogle:    gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.SyncFetchLimit, logger),
		emaildomain.ProviderMicrosoft: outlook.NewService(cfg.MicrosoftClientID, cfg.MicrosoftSecret, cfg.SyncFetchLimit, logger),
		emaildomain.ProviderIMAP:      imap.NewService(cfg.SyncFetchLimit, logger),
	}

	// Reconciliation pipeline
	llm := ai.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIMaxTokens, logger)
	analyzer := recusecase.NewThreadAnalyzer(llm, usageRepository, logger, cfg.DigestEmailLimit, cfg.DigestBodyLimit, cfg.OpenAIMaxTokens)
	executor := recusecase.NewReconciliationExecutor(taskRepository, supportRepository, emailRepository, logger)
	reconciler := recusecase.NewReconciler(emailRepository, taskRepository, analyzer, executor, logger,
		cfg.ThreadBatchSize, cfg.ReconcileRetries, cfg.ReconcileTimeout)

	// Use cases
	syncUsecase := emailusecase.NewSyncUsecase(accountRepository, emailRepository, syncJobRepository,
		excludeRepository, providers, reconciler, cfg.EncryptionKey, logger)
	taskUsecase := taskusecase.NewTaskUsecase(taskRepository, historyRepository, supportRepository)

	// Sync jobs run through an in-process queue so HTTP requests and push
	// notifications return immediately. Provider failures retry with backoff.
	queue := jobs.NewQueue(func(ctx context.Context, accountID string) error {
		_, err := syncUsecase.SyncAccount(ctx, accountID)
		var fetchErr *emaildomain.FetchError
		if errors.As(err, &fetchErr) || errors.Is(err, ai.ErrRateLimited) {
			return jobs.Retryable(err)
		}
		return err
	}, logger, 1000, 3)
	queue.Start(cfg.SyncWorkerCount)
	defer queue.Stop()

	// Periodic poll for providers without push and as a push backstop
	syncScheduler := scheduler.NewSyncScheduler(accountRepository, queue, logger, cfg.SyncInterval)
	syncScheduler.Start()
	defer syncScheduler.Stop()

	// Gmail push notifications, enabled when a GCP project is configured
	if cfg.GoogleProjectID != "" {
		notifService, err := notification.NewService(cfg.GoogleProjectID, cfg.GooglePubSubTopic,
			cfg.PubSubSubscription, cfg.GoogleCredentials, syncUsecase, queue, logger)
		if err != nil {
			logger.Error("failed to initialize notification service", zap.Error(err))
		} else {
			go func() {
				if err := notifService.Start(context.Background()); err != nil {
					logger.Error("notification service stopped", zap.Error(err))
				}
			}()
		}
	} else {
		logger.Warn("GOOGLE_PROJECT_ID not configured, gmail push disabled")
	}

	// HTTP
	taskHandler := taskdelivery.NewTaskHandler(taskUsecase)
	emailHandler := emaildelivery.NewEmailHandler(syncUsecase, queue, usageRepository)

	router := gin.Default()
	api.SetupRoutes(router, taskHandler, emailHandler)

	logger.Info("server starting", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
