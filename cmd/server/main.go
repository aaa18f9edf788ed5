// Package main runs the Throwlytics HTTP server with WebSocket notifications and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/throwlytics/backend/config"
	"github.com/throwlytics/backend/internal/analysis"
	"github.com/throwlytics/backend/internal/auth"
	"github.com/throwlytics/backend/internal/frames"
	"github.com/throwlytics/backend/internal/ingest"
	"github.com/throwlytics/backend/internal/metrics"
	"github.com/throwlytics/backend/internal/middleware"
	"github.com/throwlytics/backend/internal/realtime"
	"github.com/throwlytics/backend/internal/throws"
	"github.com/throwlytics/backend/internal/validation"
	"github.com/throwlytics/backend/internal/worker"
	"github.com/throwlytics/backend/pkg/database"
	"github.com/throwlytics/backend/pkg/queue"
	"github.com/throwlytics/backend/pkg/redis"
	"github.com/throwlytics/backend/pkg/response"
	"github.com/throwlytics/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	store := storage.NewLocal(cfg.Storage.UploadDir, logger)
	if err := store.Initialize(); err != nil {
		logger.Fatal("upload storage", zap.Error(err), zap.String("root", store.Root()))
	}

	var s3Client *storage.S3
	if cfg.AWS.MirrorEnabled() {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			MediaBucket:          cfg.AWS.MediaBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	collector := metrics.NewCollector("throwlytics", prometheus.DefaultRegisterer, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	defer hub.Close()

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Ingestion pipeline
	validator := validation.NewValidator(cfg.Storage.MaxFileSize)
	analyzer := analysis.NewClient(cfg.Analyzer.URL, store, analysis.Options{
		DistanceThreshold: cfg.Analyzer.DistanceThreshold,
		MinVisibleFrames:  cfg.Analyzer.MinVisibleFrames,
		FrameSkip:         cfg.Analyzer.FrameSkip,
	}, time.Duration(cfg.Analyzer.TimeoutSec)*time.Second, logger)
	extractor := frames.NewFFmpegExtractor(cfg.FFmpeg.Path, time.Duration(cfg.FFmpeg.TimeoutSec)*time.Second, logger)
	throwRepo := throws.NewRepository(pool)

	ingester := ingest.NewService(validator, store, analyzer, extractor, throwRepo, cfg.Storage.CleanupOrphans(), logger)
	ingester.SetNotifier(hub)
	ingester.SetMetrics(collector)

	throwHandler := throws.NewHandler(ingester, throwRepo, analyzer, validator.MaxSize(), logger)

	// Media mirror (S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		ingester.SetMirrorQueue(jobQueue)
		throwHandler.SetPresigner(s3Client)
		processor := worker.NewMirrorProcessor(store, s3Client, throwRepo, jobQueue, collector, logger)
		go processor.Run(workerCtx)
		logger.Info("media mirror worker started", zap.String("bucket", s3Client.MediaBucket()))
	}

	limiter := middleware.NewUploadLimiter(cfg.RateLimit.UploadsPerMinute, cfg.RateLimit.Burst)
	limiterDone := make(chan struct{})
	defer close(limiterDone)
	go limiter.RunCleanup(10*time.Minute, limiterDone)

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.MaxMultipartMemory = 32 << 20
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/metrics", "/health"))
	router.Use(collector.Middleware())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Uploaded media is public, as URLs are handed to clients verbatim.
	router.Static("/"+storage.FolderVideos, store.Resolve(storage.FolderVideos))
	router.Static("/"+storage.FolderThumbnails, store.Resolve(storage.FolderThumbnails))

	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/signup", authHandler.Signup)
		authGroup.POST("/login", authHandler.Login)
		authGroup.GET("/health", authHandler.Health)
	}

	router.GET("/api/video/health", throwHandler.Health)
	video := router.Group("/api/video")
	video.Use(middleware.JWT(jwtService))
	{
		video.POST("/upload", limiter.Middleware(), throwHandler.Upload)
		video.GET("/history", throwHandler.History)
		video.GET("/throws/:id/download-url", throwHandler.DownloadURL)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      cfg.ServerWriteTimeout(),
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("upload_dir", store.Root()),
			zap.Duration("write_timeout", srv.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
