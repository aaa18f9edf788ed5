// Package main runs the background media mirror worker (local uploads to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/throwlytics/backend/config"
	"github.com/throwlytics/backend/internal/metrics"
	"github.com/throwlytics/backend/internal/throws"
	"github.com/throwlytics/backend/internal/worker"
	"github.com/throwlytics/backend/pkg/database"
	"github.com/throwlytics/backend/pkg/queue"
	"github.com/throwlytics/backend/pkg/redis"
	"github.com/throwlytics/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.AWS.MirrorEnabled() {
		logger.Fatal("media mirror not configured: set AWS_REGION and AWS_S3_MEDIA_BUCKET")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		MediaBucket:          cfg.AWS.MediaBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	// The worker reads the same upload root the server writes to.
	store := storage.NewLocal(cfg.Storage.UploadDir, logger)
	collector := metrics.NewCollector("throwlytics_worker", prometheus.DefaultRegisterer, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewMirrorProcessor(store, s3Client, throws.NewRepository(pool), jobQueue, collector, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started", zap.String("upload_dir", store.Root()), zap.String("bucket", s3Client.MediaBucket()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
