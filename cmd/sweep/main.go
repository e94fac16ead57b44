// Command sweep runs a single retention pass and exits. It is meant for
// cron or manual cleanup when the API's background sweeper is disabled.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/joho/godotenv"

	"github.com/Herbiiiii/Nano-banana/internal/adapter/repo"
	"github.com/Herbiiiii/Nano-banana/internal/infra"
	"github.com/Herbiiiii/Nano-banana/internal/jobs"
	"github.com/Herbiiiii/Nano-banana/internal/storage"
)

func main() {
	retentionDays := flag.Int("retention-days", 0, "override RETENTION_DAYS")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if *retentionDays > 0 {
		cfg.RetentionDays = *retentionDays
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := storage.NewMinioStore(ctx, storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Secure:    cfg.MinioSecure,
		Bucket:    cfg.MinioBucket,
		PublicURL: cfg.MinioPublicURL,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect object store")
	}

	sweeper := jobs.NewSweeper(repo.NewGenerationRepository(dbpool), store, logger, cfg.Retention(), cfg.SweepInterval, 0)
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweep failed")
	}
	logger.Info().
		Int("deleted_records", report.DeletedRecords).
		Int("deleted_paths", len(report.DeletedPaths)).
		Msg("sweep complete")
}
