// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrKieAPIKeyRequired is returned when KIE_API_KEY is not set.
	ErrKieAPIKeyRequired = errors.New("config: KIE_API_KEY is required")
	// ErrFalAPIKeyRequired is returned when FAL_API_KEY is not set.
	ErrFalAPIKeyRequired = errors.New("config: FAL_API_KEY is required")
	// ErrDatabaseDSNRequired is returned when DB_DSN is not set.
	ErrDatabaseDSNRequired = errors.New("config: DB_DSN is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Database settings
	DatabaseDSN string `env:"DB_DSN, required" json:"-"` // Masked in JSON

	// Provider settings
	KieAPIKey  string `env:"KIE_API_KEY, required" json:"-"` // Masked in JSON
	KieBaseURL string `env:"KIE_BASE_URL" json:"kie_base_url,omitempty"`
	FalAPIKey  string `env:"FAL_API_KEY, required" json:"-"` // Masked in JSON
	FalBaseURL string `env:"FAL_BASE_URL" json:"fal_base_url,omitempty"`

	// Generation settings
	ImageModel        string `env:"IMAGE_MODEL, default=google/nano-banana-edit" json:"image_model"`
	VideoModel        string `env:"VIDEO_MODEL, default=veo3_fast" json:"video_model"`
	SegmentSeconds    int    `env:"SEGMENT_SECONDS, default=8" json:"segment_seconds"`
	MaxStageRetries   int    `env:"MAX_STAGE_RETRIES, default=3" json:"max_stage_retries"`
	PremiumCreditCost int    `env:"PREMIUM_CREDIT_COST, default=50" json:"premium_credit_cost"`

	// Reconciler settings
	SweepCandidateLimit int           `env:"SWEEP_CANDIDATE_LIMIT, default=20" json:"sweep_candidate_limit"`
	SweepCandidateDelay time.Duration `env:"SWEEP_CANDIDATE_DELAY, default=250ms" json:"sweep_candidate_delay"`
	StuckGrace          time.Duration `env:"STUCK_GRACE, default=5m" json:"stuck_grace"`
	StaleAfter          time.Duration `env:"STALE_AFTER, default=40m" json:"stale_after"`
	MergeTimeout        time.Duration `env:"MERGE_TIMEOUT, default=15m" json:"merge_timeout"`

	// Archive settings
	ArchiveDir string `env:"ARCHIVE_DIR, default=/var/lib/adforge/archive" json:"archive_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "KIE_API_KEY") {
			return nil, ErrKieAPIKeyRequired
		}
		if strings.Contains(err.Error(), "FAL_API_KEY") {
			return nil, ErrFalAPIKeyRequired
		}
		if strings.Contains(err.Error(), "DB_DSN") {
			return nil, ErrDatabaseDSNRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.KieAPIKey == "" {
		return ErrKieAPIKeyRequired
	}
	if c.FalAPIKey == "" {
		return ErrFalAPIKeyRequired
	}
	if c.DatabaseDSN == "" {
		return ErrDatabaseDSNRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, ImageModel: %s, VideoModel: %s, SegmentSeconds: %d, SweepCandidateLimit: %d, StuckGrace: %s, StaleAfter: %s, MergeTimeout: %s, ArchiveDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.ImageModel,
		c.VideoModel,
		c.SegmentSeconds,
		c.SweepCandidateLimit,
		c.StuckGrace,
		c.StaleAfter,
		c.MergeTimeout,
		c.ArchiveDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
