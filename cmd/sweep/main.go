// Command sweep runs one reconciliation sweep and exits. It is meant to be
// scheduled (cron, Kubernetes CronJob) and is safe to run repeatedly.
//
//	sweep reconcile-live-state
//	sweep cleanup-orphaned-stacks
//	sweep purge-expired-harvested
package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/campus-live/backend/internal/reconcile"
	"github.com/campus-live/backend/pkg/awsconfig"
	"github.com/campus-live/backend/pkg/database"
	"github.com/campus-live/backend/pkg/storage"
)

type sweeper interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

func main() {
	timeout := flag.Duration("timeout", 30*time.Minute, "Abort the sweep after this long")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <%s|%s|%s>\n",
			os.Args[0], reconcile.SweepStateSync, reconcile.SweepCleanup, reconcile.SweepPurge)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	name := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger := newLogger(cfg.Log.Level).With(zap.String("sweep", name))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        4,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ConnectDelay:    cfg.Database.ConnectDelay,
	}, logger)
	if err != nil {
		fatalf("database: %v", err)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	}, logger)
	if err != nil {
		fatalf("aws: %v", err)
	}
	encoder, packager := awslive.NewFromConfig(awsCfg,
		awslive.EncoderConfig{ParameterPrefix: cfg.AWS.ParameterPrefix},
		awslive.PackagerConfig{
			Bucket:          cfg.AWS.DestinationBucket,
			HarvestRoleARN:  cfg.AWS.HarvestRoleARN,
			StartoverWindow: cfg.Live.RetentionWindow,
		},
		logger,
	)
	objects := storage.NewS3(awsCfg, storage.S3Config{Bucket: cfg.AWS.DestinationBucket}, logger)

	m := metrics.New()
	store := lives.NewRepository(pool)
	prov := provisioner.New(encoder, packager, provisioner.Config{
		Env:               cfg.Live.Environment,
		SecurityGroupTag:  cfg.Live.SecurityGroupTag,
		WaiterMaxAttempts: cfg.Live.WaiterMaxAttempts,
		WaiterDelay:       cfg.Live.WaiterDelay,
		ProviderName:      "aws",
	}, m, logger)
	reclaimer := reconcile.NewReclaimer(objects, logger)

	var s sweeper
	switch name {
	case reconcile.SweepStateSync:
		resumer := harvest.New(store, packager, prov, harvest.NewHTTPProber(cfg.Live.ManifestProbeTimeout), m, logger)
		stateSync := reconcile.NewStateSync(cfg.Live.Environment, encoder, store, resumer, m, logger)
		stateSync.SetMinSegment(cfg.Live.MinSegmentDuration)
		s = stateSync
	case reconcile.SweepCleanup:
		s = reconcile.NewCleanup(reconcile.CleanupConfig{
			Env:       cfg.Live.Environment,
			Retention: cfg.Live.RetentionWindow,
		}, encoder, prov, store, reclaimer, m, logger)
	case reconcile.SweepPurge:
		s = reconcile.NewPurge(cfg.Live.RetentionWindow, prov, store, reclaimer, m, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}

	started := time.Now()
	report, runErr := s.Run(ctx)
	logger.Info("sweep finished",
		zap.Int("examined", report.Examined),
		zap.Int("updated", report.Updated),
		zap.Int("deleted", report.Deleted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", time.Since(started)),
	)

	if cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := m.Push(pushCtx, cfg.Metrics.PushgatewayURL, "live_sweep_"+name); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
		cancel()
	}
	if runErr != nil {
		logger.Error("sweep aborted", zap.Error(runErr))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
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
