// Package bootstrap provides dependency initialization for the media transformation API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/mediaforge/internal/config"
	"github.com/maauso/mediaforge/internal/genai"
	"github.com/maauso/mediaforge/internal/media"
	"github.com/maauso/mediaforge/internal/storage"
	"github.com/maauso/mediaforge/internal/transform"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Session *transform.Session
	Storage storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the generative client; the credential is injected here only
	client, err := genai.NewClient(cfg.Credential(),
		genai.WithBaseURL(cfg.BaseURL),
		genai.WithAPIVersion(cfg.APIVersion),
		genai.WithImageModel(cfg.ImageModel),
		genai.WithVideoModel(cfg.VideoModel),
		genai.WithPollInterval(cfg.PollInterval),
		genai.WithLogger(logger.With(slog.String("component", "genai"))),
	)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	// Frame extraction spools videos into the scratch directory
	extractor := media.NewFFmpegExtractor(cfg.FFmpegPath, cfg.FFprobePath, store,
		media.WithExtractorLogger(logger.With(slog.String("component", "ffmpeg"))),
	)

	opts := []transform.SessionOption{}
	if cfg.S3Enabled() {
		opts = append(opts, transform.WithExporter(store))
	}

	session := transform.NewSession(client, extractor, logger.With(slog.String("component", "session")), opts...)

	return &Dependencies{
		Session: session,
		Storage: store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 export configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
