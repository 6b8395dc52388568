package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/krs-api/api/swagger"
	"github.com/noah-isme/krs-api/internal/handler"
	"github.com/noah-isme/krs-api/internal/repository"
	"github.com/noah-isme/krs-api/internal/router"
	"github.com/noah-isme/krs-api/internal/service"
	"github.com/noah-isme/krs-api/pkg/cache"
	"github.com/noah-isme/krs-api/pkg/config"
	"github.com/noah-isme/krs-api/pkg/database"
	"github.com/noah-isme/krs-api/pkg/logger"
)

// @title KRS Registration API
// @version 1.0.0
// @description Course section registration with capacity, clash, swap, manual join and drop workflows.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	checks := make(map[string]handler.Pinger)
	uow, closeStore, err := openStore(ctx, cfg, metrics, logr, checks)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer closeStore()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without cache and pub/sub notifications", zap.Error(err))
		redisClient = nil
	}

	var cacheSvc *service.CacheService
	senders := []service.NotificationSender{service.NewLogNotificationSender(logr)}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		cacheRepo := repository.NewCacheRepository(redisClient, "krs", logr)
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
		senders = append(senders, service.NewRedisNotificationSender(redisClient, cfg.Notifications.Channel))
	}

	notifications := service.NewNotificationService(cfg.Notifications, metrics, logr, senders...)
	notifications.Start(context.Background())
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notifications.Stop(drainCtx); err != nil {
			logr.Warn("notification queue not drained", zap.Error(err))
		}
	}()

	validate := validator.New()
	registration := service.NewRegistrationService(uow, notifications, cacheSvc, metrics, validate, logr)
	swaps := service.NewSwapService(uow, notifications, cacheSvc, metrics, cfg.Registration.RecheckSwapOnAccept, validate, logr)
	manualJoins := service.NewManualJoinService(uow, registration, notifications, cacheSvc, metrics, cfg.Registration.MinReasonLength, validate, logr)
	drops := service.NewDropService(uow, registration, notifications, cacheSvc, metrics, cfg.Registration.MinReasonLength, validate, logr)
	auth := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret})

	engine := router.Setup(router.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		EnableMetrics:  cfg.Metrics.Enabled,
	}, router.Handlers{
		Registration: handler.NewRegistrationHandler(registration),
		Swap:         handler.NewSwapHandler(swaps),
		ManualJoin:   handler.NewManualJoinHandler(manualJoins),
		Drop:         handler.NewDropHandler(drops),
		Metrics:      handler.NewMetricsHandler(metrics, checks),
	}, auth, metrics, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger, checks map[string]handler.Pinger) (repository.UnitOfWork, func(), error) {
	if cfg.Database.Driver == config.StoreDriverMemory {
		mem := repository.NewMemoryStore()
		if cfg.Database.SeedFile != "" {
			f, err := os.Open(cfg.Database.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			if err := mem.LoadSeed(f); err != nil {
				return nil, nil, fmt.Errorf("load seed file: %w", err)
			}
		}
		logr.Warn("using in-memory store; data is lost on restart")
		return mem, func() {}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	checks["postgres"] = db

	store := repository.NewStore(db,
		repository.WithMaxRetries(cfg.Database.TxMaxRetries),
		repository.WithRetryObserver(metrics.RecordTxRetry),
		repository.WithLogger(logr),
	)
	return store, func() { _ = db.Close() }, nil
}
