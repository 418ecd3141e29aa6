// Package main runs the background harvest worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-live/backend/config"
	"github.com/campus-live/backend/internal/harvest"
	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/metrics"
	"github.com/campus-live/backend/internal/provider/awslive"
	"github.com/campus-live/backend/internal/provisioner"
	"github.com/campus-live/backend/internal/worker"
	"github.com/campus-live/backend/pkg/awsconfig"
	"github.com/campus-live/backend/pkg/database"
	"github.com/campus-live/backend/pkg/queue"
	"github.com/campus-live/backend/pkg/redis"
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
	// The worker never creates channels, so encoder settings are not loaded.
	encoder, packager := awslive.NewFromConfig(awsCfg,
		awslive.EncoderConfig{ParameterPrefix: cfg.AWS.ParameterPrefix},
		awslive.PackagerConfig{
			Bucket:          cfg.AWS.DestinationBucket,
			HarvestRoleARN:  cfg.AWS.HarvestRoleARN,
			StartoverWindow: cfg.Live.RetentionWindow,
		},
		logger,
	)

	m := metrics.New()
	prov := provisioner.New(encoder, packager, provisioner.Config{
		Env:               cfg.Live.Environment,
		SecurityGroupTag:  cfg.Live.SecurityGroupTag,
		WaiterMaxAttempts: cfg.Live.WaiterMaxAttempts,
		WaiterDelay:       cfg.Live.WaiterDelay,
		ProviderName:      "aws",
	}, m, logger)
	orchestrator := harvest.New(lives.NewRepository(pool), packager, prov, harvest.NewHTTPProber(cfg.Live.ManifestProbeTimeout), m, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewHarvestProcessor(orchestrator, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started", zap.String("environment", cfg.Live.Environment))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	if cfg.Metrics.PushgatewayURL != "" {
		if err := m.Push(context.Background(), cfg.Metrics.PushgatewayURL, "harvest_worker"); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
	}
	logger.Info("worker stopped")
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
