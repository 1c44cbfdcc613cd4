package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/doc-catalog/auth"
	"github.com/doc-catalog/config"
	"github.com/doc-catalog/handlers"
	"github.com/doc-catalog/services/ai"
	"github.com/doc-catalog/services/extract"
	"github.com/doc-catalog/services/impl"
	"github.com/doc-catalog/services/pipeline"
	"github.com/doc-catalog/services/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	log := setupLogging(&cfg.Logging)
	ctx := context.Background()

	db, err := initDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddress(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis outage is survivable: cache degrades to misses, sessions
		// fall back to process memory. The queue is not; workers retry.
		log.WithError(err).Warn("redis unreachable at startup")
	}

	s3Client, err := impl.NewS3Client(ctx, &cfg.Blob)
	if err != nil {
		log.WithError(err).Fatal("failed to configure blob storage")
	}
	blobService, err := impl.NewBlobService(ctx, s3Client, cfg.Blob.Bucket, log.WithField("component", "blob"))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize blob storage")
	}

	cacheService := impl.NewCacheService(redisClient, log.WithField("component", "cache"))
	queueService := impl.NewQueueService(redisClient, log.WithField("component", "queue"))
	documentService := impl.NewDocumentService(db, cfg.AI.VectorDim, log.WithField("component", "documents"))

	taxonomyService, err := impl.NewTaxonomyService(db, log.WithField("component", "taxonomy"))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize taxonomy service")
	}

	providers, err := ai.BuildProviders(ctx, &cfg.AI, log.WithField("component", "ai"))
	if err != nil {
		log.WithError(err).Fatal("failed to build AI providers")
	}
	gateway := ai.NewGateway(&cfg.AI, providers, log.WithField("component", "ai"))

	searchService := impl.NewSearchService(
		documentService, cacheService, taxonomyService, gateway,
		&cfg.Search, log.WithField("component", "search"),
	)

	sessionManager, err := session.NewManager(&cfg.Session, session.NewRedisBackend(redisClient), log.WithField("component", "session"))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize session manager")
	}
	sessionManager.CheckBackend(ctx)

	enqueuer := pipeline.NewEnqueuer(documentService, queueService, &cfg.Pipeline, log.WithField("component", "enqueuer"))
	extractor := extract.NewExtractor(cfg.AI.OCRThreshold, log.WithField("component", "extract"))
	previewService := impl.NewPreviewService(blobService, log.WithField("component", "preview"))

	workers := pipeline.NewWorkerPool(
		documentService, queueService, blobService, gateway,
		taxonomyService, searchService, previewService, extractor,
		&cfg.Pipeline, log.WithField("component", "worker"),
	)
	workers.Start(ctx)

	scheduler := pipeline.NewScheduler(
		documentService, queueService, taxonomyService, enqueuer,
		sessionManager, &cfg.Pipeline, log.WithField("component", "scheduler"),
	)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}

	mw := auth.NewMiddleware(sessionManager, &cfg.Auth, &cfg.Session, log.WithField("component", "auth"))
	h := handlers.Handlers{
		Auth:      handlers.NewAuthHandlers(mw, &cfg.Auth, log.WithField("component", "auth")),
		Documents: handlers.NewDocumentHandlers(documentService, blobService, searchService, enqueuer, cfg, log.WithField("component", "documents")),
		Search:    handlers.NewSearchHandlers(searchService, log.WithField("component", "search")),
		Taxonomy:  handlers.NewTaxonomyHandlers(taxonomyService, log.WithField("component", "taxonomy")),
		Health:    handlers.NewHealthHandlers(db, cacheService, queueService, sessionManager, log.WithField("component", "health")),
	}
	router := handlers.SetupRouter(cfg, mw, h, log.WithField("component", "http"))

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("address", cfg.GetServerAddress()).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shut down")
	}

	scheduler.Stop()
	workers.Stop()

	log.Info("server exited")
}

func setupLogging(cfg *config.LoggingConfig) *logrus.Entry {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger.WithField("service", "doc-catalog")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}
