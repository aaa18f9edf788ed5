package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ORPHAN_POLICY", "")
	t.Setenv("MAX_FILE_SIZE", "")
	t.Setenv("ANALYZER_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "500MB", cfg.Storage.MaxFileSize)
	assert.Equal(t, OrphanRetain, cfg.Storage.OrphanPolicy)
	assert.False(t, cfg.Storage.CleanupOrphans())
	assert.Equal(t, "http://localhost:8000", cfg.Analyzer.URL)
	assert.Equal(t, 7*24, cfg.JWT.ExpireHours)
	assert.Equal(t, 0, cfg.Server.ReadTimeout)
	assert.Positive(t, cfg.Server.ReadHeaderTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ORPHAN_POLICY", "CLEANUP")
	t.Setenv("ANALYZER_URL", "http://analyzer:9000/")
	t.Setenv("FFMPEG_TIMEOUT_SEC", "15")
	t.Setenv("ANALYZER_FRAME_SKIP", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Storage.CleanupOrphans())
	assert.Equal(t, "http://analyzer:9000", cfg.Analyzer.URL)
	assert.Equal(t, 15, cfg.FFmpeg.TimeoutSec)
	assert.Equal(t, 0, cfg.Analyzer.FrameSkip)
}

func TestLoad_RejectsUnknownOrphanPolicy(t *testing.T) {
	t.Setenv("ORPHAN_POLICY", "shred")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "throwlytics", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/throwlytics?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

func TestAWSConfig_MirrorEnabled(t *testing.T) {
	assert.False(t, AWSConfig{}.MirrorEnabled())
	assert.False(t, AWSConfig{Region: "eu-west-1"}.MirrorEnabled())
	assert.True(t, AWSConfig{Region: "eu-west-1", MediaBucket: "media"}.MirrorEnabled())
}

func TestLoad_DefaultWriteTimeoutCoversUploadPipeline(t *testing.T) {
	for _, k := range []string{"WRITE_TIMEOUT_SEC", "ANALYZER_TIMEOUT_SEC", "FFMPEG_TIMEOUT_SEC", "UPLOAD_TRANSFER_SEC"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)

	pipeline := time.Duration(cfg.Analyzer.TimeoutSec)*time.Second + 2*time.Duration(cfg.FFmpeg.TimeoutSec)*time.Second
	assert.Greater(t, cfg.ServerWriteTimeout(), pipeline)
	assert.Equal(t, cfg.UploadWriteBudget(), cfg.ServerWriteTimeout())
}

func TestServerWriteTimeout(t *testing.T) {
	base := Config{
		Server:   ServerConfig{UploadTransferSec: 300},
		Analyzer: AnalyzerConfig{TimeoutSec: 600},
		FFmpeg:   FFmpegConfig{TimeoutSec: 60},
	}
	budget := 300*time.Second + 600*time.Second + 120*time.Second + writeMargin

	t.Run("shorter configured value is raised", func(t *testing.T) {
		cfg := base
		cfg.Server.WriteTimeout = 600
		assert.Equal(t, budget, cfg.ServerWriteTimeout())
	})

	t.Run("longer configured value is kept", func(t *testing.T) {
		cfg := base
		cfg.Server.WriteTimeout = 7200
		assert.Equal(t, 2*time.Hour, cfg.ServerWriteTimeout())
	})

	t.Run("unbounded analyzer disables the deadline", func(t *testing.T) {
		cfg := base
		cfg.Analyzer.TimeoutSec = 0
		cfg.Server.WriteTimeout = 600
		assert.Equal(t, time.Duration(0), cfg.ServerWriteTimeout())
	})

	t.Run("unbounded ffmpeg disables the deadline", func(t *testing.T) {
		cfg := base
		cfg.FFmpeg.TimeoutSec = 0
		assert.Equal(t, time.Duration(0), cfg.ServerWriteTimeout())
	})
}
