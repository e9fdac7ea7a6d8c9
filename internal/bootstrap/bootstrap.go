// Package bootstrap provides dependency initialization for the API server.
package bootstrap

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/adforge/adforge-api/internal/config"
	"github.com/adforge/adforge-api/internal/credit"
	"github.com/adforge/adforge-api/internal/monitor"
	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/provider"
	"github.com/adforge/adforge-api/internal/provider/fal"
	"github.com/adforge/adforge-api/internal/provider/kie"
	"github.com/adforge/adforge-api/internal/storage"
	"github.com/adforge/adforge-api/internal/workflow"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Store   project.Store
	Creator *workflow.Creator
	Monitor *monitor.Monitor
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, ledger, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := initGateway(cfg)
	if err != nil {
		return nil, err
	}

	archiver, err := initArchiver(cfg, logger)
	if err != nil {
		return nil, err
	}

	wfCfg := workflow.Config{
		ImageModel:        cfg.ImageModel,
		VideoModel:        cfg.VideoModel,
		SegmentSeconds:    cfg.SegmentSeconds,
		MergeTimeout:      cfg.MergeTimeout,
		MaxRetries:        cfg.MaxStageRetries,
		PremiumCreditCost: cfg.PremiumCreditCost,
	}

	single := workflow.NewSingle(gateway, ledger, wfCfg, logger)
	segmented := workflow.NewSegmented(store, gateway, wfCfg, logger)
	creator := workflow.NewCreator(store, ledger, wfCfg, logger)

	monCfg := monitor.Config{
		CandidateLimit: cfg.SweepCandidateLimit,
		CandidateDelay: cfg.SweepCandidateDelay,
		StuckGrace:     cfg.StuckGrace,
		StaleAfter:     cfg.StaleAfter,
	}
	mon := monitor.New(store, single, segmented, archiver, monCfg, logger)

	return &Dependencies{
		Store:   store,
		Creator: creator,
		Monitor: mon,
	}, nil
}

// initStore opens the MySQL database and migrates the schema.
func initStore(cfg *config.Config) (*project.GormStore, *credit.GormLedger, error) {
	db, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	store := project.NewGormStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, nil, fmt.Errorf("migrate project schema: %w", err)
	}

	ledger := credit.NewGormLedger(db)
	if err := ledger.AutoMigrate(); err != nil {
		return nil, nil, fmt.Errorf("migrate credit schema: %w", err)
	}
	return store, ledger, nil
}

// initGateway creates the provider clients behind the unified gateway.
func initGateway(cfg *config.Config) (provider.Gateway, error) {
	kieOpts := []kie.ClientOption{kie.WithAPIKey(cfg.KieAPIKey)}
	if cfg.KieBaseURL != "" {
		kieOpts = append(kieOpts, kie.WithBaseURL(cfg.KieBaseURL))
	}
	kieClient, err := kie.NewClient(kieOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kie client: %w", err)
	}

	falOpts := []fal.ClientOption{fal.WithAPIKey(cfg.FalAPIKey)}
	if cfg.FalBaseURL != "" {
		falOpts = append(falOpts, fal.WithBaseURL(cfg.FalBaseURL))
	}
	falClient, err := fal.NewClient(falOpts...)
	if err != nil {
		return nil, fmt.Errorf("create fal client: %w", err)
	}

	return provider.NewHTTPGateway(kieClient, falClient), nil
}

// initArchiver creates the archival backend based on configuration.
func initArchiver(cfg *config.Config, logger *slog.Logger) (*storage.Archiver, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 archival configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return storage.NewArchiver(s3Store, nil), nil
	}

	localStore, err := storage.NewLocalStorage(cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local archival configured",
		slog.String("archive_dir", localStore.BaseDir()),
	)
	return storage.NewArchiver(localStore, nil), nil
}
