package main

import (
	"alcyxob/coaching-app/internal/api"
	"alcyxob/coaching-app/internal/config"
	"alcyxob/coaching-app/internal/lock"
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/outbox"
	"alcyxob/coaching-app/internal/recurrence"
	"alcyxob/coaching-app/internal/repository/mongo"
	"alcyxob/coaching-app/internal/service"
	"alcyxob/coaching-app/internal/storage"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

// @title Coaching Sessions API
// @version 1.0
// @description Recurring session generation from coaching templates.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("could not load config", logger.Err(err))
		os.Exit(1)
	}

	log := logger.Setup(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting coaching-app", slog.String("env", cfg.Env))

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", logger.Err(err))
		os.Exit(1)
	}
	log.Info("server exiting")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// --- Database ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.Error("failed to disconnect mongodb", logger.Err(err))
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)
	log.Info("database connection established", slog.String("database", cfg.Database.Name))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := mongo.EnsureIndexes(ctx, appDB); err != nil {
			log.Error("index creation failed", logger.Err(err))
			return
		}
		log.Info("indexes ensured")
	}()

	// --- Redis: generation lock and tracking outbox ---
	var (
		locker lock.Locker
		queue  outbox.Queue
	)
	if cfg.Redis.Addr != "" {
		rdb, err := lock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedisLock(rdb)
		queue = outbox.NewRedisQueue(rdb, outbox.DefaultKey)
		log.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		log.Warn("redis not configured: generation lock and tracking outbox disabled")
	}

	// --- Report storage ---
	var fileStorage storage.FileStorage
	if cfg.S3.BucketName != "" {
		fileStorage, err = storage.NewS3Storage(ctx, cfg.S3, log)
		if err != nil {
			return err
		}
	} else {
		log.Warn("s3 bucket not configured: batch report export disabled")
	}

	// --- Repositories & services ---
	userRepo := mongo.NewMongoUserRepository(appDB)
	templateRepo := mongo.NewMongoTemplateRepository(appDB)
	sessionRepo := mongo.NewMongoSessionRepository(appDB)
	recordRepo := mongo.NewMongoGenerationRecordRepository(appDB)

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	generationService := service.NewGenerationService(service.GenerationDeps{
		Templates:  templateRepo,
		Sessions:   sessionRepo,
		Records:    recordRepo,
		Calculator: recurrence.NewCalculator(cfg.Generation.MaxScanSteps, log),
		Locker:     locker,
		Outbox:     queue,
		Storage:    fileStorage,
		Logger:     log,
	}, service.GenerationOptions{
		Timeout:         cfg.Generation.Timeout,
		LockTTL:         cfg.Generation.LockTTL,
		BulkConcurrency: cfg.Generation.BulkConcurrency,
		ReportURLExpiry: cfg.Generation.ReportURLExpiry,
	})

	// --- Outbox retrier ---
	scheduler := cron.New()
	if queue != nil {
		retrier := service.NewTrackingRetrier(queue, recordRepo, log)
		if _, err := retrier.Schedule(scheduler, cfg.Generation.OutboxDrainSchedule); err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	// --- HTTP ---
	if cfg.Env == logger.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(log))
	api.SetupRoutes(router, authService, generationService)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Generation.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return server.Shutdown(ctxShutdown)
}
