package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Orphan policies for a stored video whose ingestion fails after the copy succeeded.
const (
	OrphanRetain  = "retain"
	OrphanCleanup = "cleanup"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Storage   StorageConfig
	Analyzer  AnalyzerConfig
	FFmpeg    FFmpegConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server settings. Timeouts are in seconds.
type ServerConfig struct {
	Port               string
	ReadHeaderTimeout  int
	ReadTimeout        int    // whole request including the body; 0 = none
	WriteTimeout       int    // 0 = derived; never below UploadWriteBudget
	UploadTransferSec  int    // time allowed for receiving an upload body
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/throwlytics?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket used to mirror uploaded media.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MediaBucket          string // empty disables mirroring
	PresignExpireMinutes int
}

// StorageConfig holds local upload storage settings.
type StorageConfig struct {
	UploadDir    string // root holding videos/ and thumbnails/
	MaxFileSize  string // e.g. 500MB; parsed by validation.ParseSize
	OrphanPolicy string // retain | cleanup
}

// AnalyzerConfig holds the motion-analysis service endpoint and its optional tunables.
// A zero tunable is not sent, leaving the analyzer's own default in effect.
type AnalyzerConfig struct {
	URL               string
	TimeoutSec        int // 0 = no client timeout
	DistanceThreshold int
	MinVisibleFrames  int
	FrameSkip         int
}

// FFmpegConfig holds the frame decoder settings.
type FFmpegConfig struct {
	Path       string
	TimeoutSec int // 0 = wait indefinitely
}

// RateLimitConfig bounds uploads per user.
type RateLimitConfig struct {
	UploadsPerMinute int // 0 disables the limiter
	Burst            int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// CleanupOrphans reports whether stored media should be removed when a later ingestion step fails.
func (c StorageConfig) CleanupOrphans() bool {
	return c.OrphanPolicy == OrphanCleanup
}

// MirrorEnabled reports whether uploaded media is copied to S3.
func (c AWSConfig) MirrorEnabled() bool {
	return c.Region != "" && c.MediaBucket != ""
}

// writeMargin covers storing, persisting and writing the response after the slow steps.
const writeMargin = 60 * time.Second

// UploadWriteBudget is the longest an upload request can legitimately take: receiving the body, one analyzer call
// and up to two ffmpeg runs, plus a margin. It is 0 (unbounded) when the analyzer or ffmpeg timeout is disabled.
func (c *Config) UploadWriteBudget() time.Duration {
	if c.Analyzer.TimeoutSec <= 0 || c.FFmpeg.TimeoutSec <= 0 || c.Server.UploadTransferSec <= 0 {
		return 0
	}
	return time.Duration(c.Server.UploadTransferSec)*time.Second +
		time.Duration(c.Analyzer.TimeoutSec)*time.Second +
		2*time.Duration(c.FFmpeg.TimeoutSec)*time.Second +
		writeMargin
}

// ServerWriteTimeout returns the http.Server WriteTimeout: the configured value, raised to UploadWriteBudget so a
// saved throw's response is never cut off. 0 when the budget is unbounded.
func (c *Config) ServerWriteTimeout() time.Duration {
	budget := c.UploadWriteBudget()
	if budget == 0 {
		return 0
	}
	if configured := time.Duration(c.Server.WriteTimeout) * time.Second; configured > budget {
		return configured
	}
	return budget
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadHeaderTimeout:  getEnvInt("READ_HEADER_TIMEOUT_SEC", 10),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 0),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 0),
			UploadTransferSec:  getEnvInt("UPLOAD_TRANSFER_SEC", 900),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001,https://throwlytics.com"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "throwlytics"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 7*24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:          getEnv("AWS_S3_MEDIA_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Storage: StorageConfig{
			UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
			MaxFileSize:  getEnv("MAX_FILE_SIZE", "500MB"),
			OrphanPolicy: strings.ToLower(getEnv("ORPHAN_POLICY", OrphanRetain)),
		},
		Analyzer: AnalyzerConfig{
			URL:               strings.TrimRight(getEnv("ANALYZER_URL", "http://localhost:8000"), "/"),
			TimeoutSec:        getEnvInt("ANALYZER_TIMEOUT_SEC", 600),
			DistanceThreshold: getEnvInt("ANALYZER_DISTANCE_THRESHOLD", 0),
			MinVisibleFrames:  getEnvInt("ANALYZER_MIN_VISIBLE_FRAMES", 0),
			FrameSkip:         getEnvInt("ANALYZER_FRAME_SKIP", 0),
		},
		FFmpeg: FFmpegConfig{
			Path:       getEnv("FFMPEG_PATH", "ffmpeg"),
			TimeoutSec: getEnvInt("FFMPEG_TIMEOUT_SEC", 60),
		},
		RateLimit: RateLimitConfig{
			UploadsPerMinute: getEnvInt("UPLOADS_PER_MINUTE", 10),
			Burst:            getEnvInt("UPLOAD_BURST", 3),
		},
	}

	switch cfg.Storage.OrphanPolicy {
	case OrphanRetain, OrphanCleanup:
	default:
		return nil, fmt.Errorf("invalid ORPHAN_POLICY %q (want %s or %s)", cfg.Storage.OrphanPolicy, OrphanRetain, OrphanCleanup)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
