package config

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT",
	"GEMINI_API_KEY",
	"API_KEY",
	"GENAI_BASE_URL",
	"GENAI_API_VERSION",
	"GENAI_IMAGE_MODEL",
	"GENAI_VIDEO_MODEL",
	"POLL_INTERVAL",
	"TEMP_DIR",
	"FFMPEG_PATH",
	"FFPROBE_PATH",
	"S3_BUCKET",
	"S3_REGION",
	"S3_ENDPOINT",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"LOG_FORMAT",
	"LOG_LEVEL",
}

// clearEnv unsets every config variable and restores the previous values after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		if prev, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { _ = os.Setenv(key, prev) })
		}
		_ = os.Unsetenv(key)
	}
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing API key returns error", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAPIKeyRequired)
	})

	t.Run("GEMINI_API_KEY succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gemini-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "gemini-key", cfg.Credential())
	})

	t.Run("API_KEY fallback succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("API_KEY", "legacy-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "legacy-key", cfg.Credential())
	})

	t.Run("GEMINI_API_KEY wins over API_KEY", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gemini-key")
		t.Setenv("API_KEY", "legacy-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "gemini-key", cfg.Credential())
	})
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-api-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.BaseURL)
	assert.Equal(t, "v1beta", cfg.APIVersion)
	assert.Equal(t, "gemini-2.5-flash-image-preview", cfg.ImageModel)
	assert.Equal(t, "veo-2.0-generate-001", cfg.VideoModel)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, "/tmp/mediaforge", cfg.TempDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "custom-api-key")
	t.Setenv("PORT", "3000")
	t.Setenv("GENAI_BASE_URL", "http://localhost:9999")
	t.Setenv("GENAI_API_VERSION", "v1alpha")
	t.Setenv("GENAI_IMAGE_MODEL", "image-model")
	t.Setenv("GENAI_VIDEO_MODEL", "video-model")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("TEMP_DIR", "/custom/temp")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ENDPOINT", "http://localhost:4566")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "http://localhost:9999", cfg.BaseURL)
	assert.Equal(t, "v1alpha", cfg.APIVersion)
	assert.Equal(t, "image-model", cfg.ImageModel)
	assert.Equal(t, "video-model", cfg.VideoModel)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "http://localhost:4566", cfg.S3Endpoint)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.S3Enabled())
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-api-key")
	t.Setenv("PORT", "not-a-number")

	// go-envconfig returns an error when parsing fails
	_, err := Load()
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		GeminiAPIKey:       "secret-key",
		BaseURL:            "https://example.test",
		TempDir:            "/tmp/test",
		PollInterval:       10 * time.Second,
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSSecretAccessKey: "aws-secret",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "https://example.test")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "10s")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "aws-secret")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.False(t, logger.Enabled(t.Context(), slog.LevelDebug))

	var buf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&buf, nil))
	testLogger.Info("test message")

	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := &Config{
			GeminiAPIKey: "key",
			PollInterval: time.Second,
		}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := &Config{
			PollInterval: time.Second,
		}
		assert.ErrorIs(t, cfg.Validate(), ErrAPIKeyRequired)
	})

	t.Run("non-positive poll interval", func(t *testing.T) {
		cfg := &Config{
			APIKey: "key",
		}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidPollInterval)
	})
}
