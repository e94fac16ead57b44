package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Herbiiiii/Nano-banana/internal/adapter/repo"
	"github.com/Herbiiiii/Nano-banana/internal/domain"
	"github.com/Herbiiiii/Nano-banana/internal/http/handlers"
	"github.com/Herbiiiii/Nano-banana/internal/http/httpapi"
	"github.com/Herbiiiii/Nano-banana/internal/imagegen"
	"github.com/Herbiiiii/Nano-banana/internal/infra"
	"github.com/Herbiiiii/Nano-banana/internal/jobs"
	"github.com/Herbiiiii/Nano-banana/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := repo.Migrate(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	store, staticDir, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect object store")
	}

	generations := repo.NewGenerationRepository(dbpool)
	resolver := imagegen.NewResolver(nil, logger)

	newGenerator := func(token string) imagegen.Generator {
		return imagegen.NewClient(imagegen.ClientOptions{
			BaseURL:  cfg.ReplicateBaseURL,
			APIToken: token,
			Logger:   logger,
		})
	}
	orchestrator := jobs.NewOrchestrator(generations, store, newGenerator, resolver, logger, jobs.Config{
		Workers:          cfg.MaxWorkers,
		QueueSize:        cfg.QueueSize,
		MaxActivePerUser: cfg.MaxConcurrentGenerations,
		GlobalAPIToken:   cfg.ReplicateAPIToken,
		GenerateTimeout:  cfg.GenerateTimeout,
	})

	sweeper := jobs.NewSweeper(generations, store, logger, cfg.Retention(), cfg.SweepInterval, cfg.SweepStartupDelay)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweeper.Run(sweepCtx)

	app := &handlers.App{
		Repo:          generations,
		Store:         store,
		Orchestrator:  orchestrator,
		Sweeper:       sweeper,
		AdminToken:    cfg.AdminToken,
		RetentionDays: cfg.RetentionDays,
		Logger:        logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateWindow:     cfg.RateWindow,
		StaticDir:      staticDir,
		Logger:         logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	stopSweeper()
	orchestrator.Close()
	logger.Info().Msg("server stopped")
}

// newObjectStore picks the storage backend. The second return is the local
// directory to serve under /files/, empty for remote backends.
func newObjectStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.ObjectStore, string, error) {
	if cfg.StorageBackend == "file" {
		store, err := storage.NewFileStore(cfg.FileStorePath, cfg.FileStorePublicURL)
		if err != nil {
			return nil, "", err
		}
		return store, store.BasePath(), nil
	}
	store, err := storage.NewMinioStore(ctx, storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Secure:    cfg.MinioSecure,
		Bucket:    cfg.MinioBucket,
		PublicURL: cfg.MinioPublicURL,
		Logger:    logger,
	})
	return store, "", err
}
