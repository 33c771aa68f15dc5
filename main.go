package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"enjoytravel/traveldealworker/config"
	"enjoytravel/traveldealworker/internal/crawler"
	"enjoytravel/traveldealworker/logger"
	"enjoytravel/traveldealworker/server"
	"enjoytravel/traveldealworker/services/cache"
	"enjoytravel/traveldealworker/services/publisher"
	"enjoytravel/traveldealworker/services/store"
	"enjoytravel/traveldealworker/services/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("baseURL", cfg.BaseURL).
		Bool("backgroundSync", cfg.BackgroundSync).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	services := initializeServices(ctx, &cfg)
	defer services.Cleanup()

	// Warm the store before serving
	st := store.New(cfg.Freshness, cfg.SnapshotPath, services.Storage)
	st.Load()

	fetcherFactory := func() (crawler.PageFetcher, error) {
		return crawler.NewBrowser(cfg.BaseURL, cfg.NavTimeout, cfg.SettleDelay)
	}
	w := worker.New(&cfg, st, fetcherFactory, services.Cache, services.Publisher)

	var scheduler *worker.Scheduler
	if cfg.BackgroundSync && !cfg.CrawlDisabled {
		scheduler = worker.NewScheduler(w, cfg.SyncInterval)
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start background sync")
		}
	}

	srv := server.New(&cfg, st, w)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverDone:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server exited with error")
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	cancel()

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// Services holds all the initialized optional services
type Services struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Storage   store.Storage
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Storage != nil {
		s.Storage.Close()
	}
}

// initializeServices wires up the optional backends. Each one is
// skipped when its address is not configured so the worker can run
// with memory and snapshot only.
func initializeServices(ctx context.Context, cfg *config.Config) *Services {
	services := &Services{}
	log := logger.Default

	if cfg.MemcacheAddr != "" {
		services.Cache = cache.NewMemcacheService(cfg.MemcacheAddr)
		log.Info().Str("addr", cfg.MemcacheAddr).Msg("Connected to Memcache")
	}

	if cfg.RedisAddr != "" {
		services.Publisher = publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamMaxLen,
		)
		log.Info().
			Str("addr", cfg.RedisAddr).
			Int("db", cfg.RedisDB).
			Str("stream", cfg.RedisStream).
			Msg("Connected to Redis")
	}

	if cfg.PostgresDSN != "" {
		storage, err := store.NewPostgresStorage(cfg.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, running without durable storage")
		} else {
			services.Storage = storage
			log.Info().Msg("Connected to PostgreSQL")
		}
	}

	return services
}
