// Package main runs the live broadcast HTTP API with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-live/backend/config"
	"github.com/campus-live/backend/internal/auth"
	"github.com/campus-live/backend/internal/broadcasts"
	"github.com/campus-live/backend/internal/finalize"
	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/middleware"
	"github.com/campus-live/backend/internal/notify"
	"github.com/campus-live/backend/internal/provider/awslive"
	"github.com/campus-live/backend/internal/provisioner"
	"github.com/campus-live/backend/internal/reconcile"
	"github.com/campus-live/backend/internal/recording"
	"github.com/campus-live/backend/pkg/awsconfig"
	"github.com/campus-live/backend/pkg/database"
	"github.com/campus-live/backend/pkg/queue"
	"github.com/campus-live/backend/pkg/redis"
	"github.com/campus-live/backend/pkg/response"
	"github.com/campus-live/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ConnectDelay:    cfg.Database.ConnectDelay,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	applied, err := database.Migrate(ctx, pool)
	if err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, logger)
	if err != nil {
		logger.Fatal("aws", zap.Error(err))
	}
	settings, err := awslive.LoadEncoderSettings(cfg.AWS.EncoderSettingsPath)
	if err != nil {
		logger.Fatal("encoder settings", zap.Error(err))
	}
	encoder, packager := awslive.NewFromConfig(awsCfg,
		awslive.EncoderConfig{
			RoleARN:         cfg.AWS.MediaLiveRoleARN,
			Settings:        settings,
			ParameterPrefix: cfg.AWS.ParameterPrefix,
		},
		awslive.PackagerConfig{
			Bucket:          cfg.AWS.DestinationBucket,
			HarvestRoleARN:  cfg.AWS.HarvestRoleARN,
			StartoverWindow: cfg.Live.RetentionWindow,
		},
		logger,
	)
	objects := storage.NewS3(awsCfg, storage.S3Config{
		Bucket:               cfg.AWS.DestinationBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)

	m := metrics.New()
	store := lives.NewRepository(pool)
	notifier := notify.NewRedisNotifier(rdb.Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	prov := provisioner.New(encoder, packager, provisioner.Config{
		Env:               cfg.Live.Environment,
		SecurityGroupTag:  cfg.Live.SecurityGroupTag,
		WaiterMaxAttempts: cfg.Live.WaiterMaxAttempts,
		WaiterDelay:       cfg.Live.WaiterDelay,
		ProviderName:      "aws",
	}, m, logger)

	svc := broadcasts.NewService(broadcasts.Deps{
		Store:       store,
		Provisioner: prov,
		Tracker:     recording.NewTracker(store, cfg.Live.MinSegmentDuration, logger),
		Queue:       jobQueue,
		Converter:   finalize.New(store, notifier, cfg.Live.TranscodePipeline, m, logger),
		Notifier:    notifier,
		Purger:      reconcile.NewReclaimer(objects, logger),
		Signer:      objects,
		Metrics:     m,
		MinSegment:  cfg.Live.MinSegmentDuration,
	}, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := errors.Join(database.Check(ctx, pool), rdb.Check(ctx)); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			response.Abort(c, http.StatusServiceUnavailable, "dependencies unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	broadcasts.NewHandler(svc, logger).Register(api)

	// Packager completion events; no JWT, shared token instead.
	webhook := broadcasts.NewWebhookHandler(svc, logger)
	router.POST("/webhooks/harvest-job", middleware.WebhookToken(cfg.Server.WebhookToken), webhook.HarvestJob)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("environment", cfg.Live.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		config.Level = lvl
	}
	logger, _ := config.Build()
	return logger
}
