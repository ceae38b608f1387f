package bootstrap

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediaforge/internal/config"
	"github.com/maauso/mediaforge/internal/storage"
	"github.com/maauso/mediaforge/internal/transform"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		GeminiAPIKey: "test-key",
		BaseURL:      "http://localhost:1",
		APIVersion:   "v1beta",
		ImageModel:   "image-model",
		VideoModel:   "video-model",
		PollInterval: time.Second,
		TempDir:      filepath.Join(t.TempDir(), "scratch"),
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
	}
}

func TestNewDependencies_Local(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := NewDependencies(cfg, logger)
	require.NoError(t, err)

	require.NotNil(t, deps.Session)
	assert.IsType(t, &storage.LocalStorage{}, deps.Storage)
	assert.DirExists(t, cfg.TempDir)

	snap := deps.Session.Snapshot()
	assert.Equal(t, transform.PhaseIdle, snap.Phase)
	assert.Equal(t, transform.DefaultOptions(), snap.Options)
}

func TestNewDependencies_S3(t *testing.T) {
	cfg := testConfig(t)
	cfg.S3Bucket = "bucket"
	cfg.S3Region = "us-east-1"
	cfg.S3Endpoint = "http://localhost:4566"
	cfg.AWSAccessKeyID = "key"
	cfg.AWSSecretAccessKey = "secret"

	deps, err := NewDependencies(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.IsType(t, &storage.S3Storage{}, deps.Storage)
}

func TestNewDependencies_MissingCredential(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeminiAPIKey = ""

	_, err := NewDependencies(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}
