package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/api"
	"github.com/midlaj1055/live-chat/internal/api/middleware"
	"github.com/midlaj1055/live-chat/internal/assetcache"
	"github.com/midlaj1055/live-chat/internal/config"
	"github.com/midlaj1055/live-chat/internal/gateway"
	"github.com/midlaj1055/live-chat/internal/handlers"
	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/store"
)

// liveBackend is what the redis and memory stores both provide.
type liveBackend interface {
	store.LiveStore
	store.CodeStore
	Close() error
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Account store: PostgreSQL when configured, SQLite otherwise
	var accounts store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		accounts = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		accounts = sqliteStore
		logger.Info().Msg("using SQLite account store")
	}

	// Live store: Redis, or in-process memory for a single instance
	var live liveBackend
	var redisClient *redis.Client
	switch cfg.StoreBackend {
	case "memory":
		live = store.NewMemoryStore(nil)
		logger.Warn().Msg("using in-memory live store; data is lost on restart")
	default:
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		live = redisStore
		redisClient = redisStore.Client()
		logger.Info().Msg("connected to Redis")
	}
	defer live.Close()

	ident := identity.NewService(identity.Config{
		JWTSecret:          cfg.JWTSecret,
		TokenTTL:           cfg.TokenTTL,
		OTPTTL:             cfg.OTPTTL,
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		GoogleCallbackURL:  cfg.GoogleCallbackURL,
	}, accounts, live, identity.LogSender{Logger: logger}, logger)

	gw := gateway.New(gateway.Config{
		Store:            live,
		Auth:             ident,
		Location:         cfg.Location,
		DefaultAvatarURL: cfg.DefaultAvatarURL,
		AllowedOrigins:   cfg.AllowedOrigins,
		Logger:           logger,
	})

	// Static app behind the cache-first asset cache
	var assets http.Handler
	if cache := openAssetCache(ctx, cfg, logger); cache != nil {
		defer cache.Close()
		assets = cache
	}

	h := handlers.NewHandler(accounts, live, ident, handlers.Options{
		Location:         cfg.Location,
		DefaultAvatarURL: cfg.DefaultAvatarURL,
		SecureCookies:    !cfg.IsDevelopment(),
	}, logger)

	// Create router
	router := api.NewRouter(api.Deps{
		Handler: h,
		Auth:    ident,
		Gateway: gw,
		Assets:  assets,
		Redis:   redisClient,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreBackend).
			Msg("starting live-chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// openAssetCache opens the cache, precaches the app shell and purges caches
// of earlier versions. It returns nil when no asset source is configured.
func openAssetCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *assetcache.Cache {
	var fetcher assetcache.Fetcher
	switch {
	case cfg.AssetDir != "":
		fetcher = assetcache.DirFetcher{Root: cfg.AssetDir, Prefix: "/live-chat/"}
	case cfg.AssetOrigin != "":
		fetcher = assetcache.NewHTTPFetcher(cfg.AssetOrigin)
	default:
		logger.Info().Msg("no ASSET_DIR or ASSET_ORIGIN; /live-chat/ is not served")
		return nil
	}

	cache, err := assetcache.Open(cfg.AssetCacheDir, assetcache.Options{
		Name:        cfg.AssetCacheName,
		Precache:    cfg.AssetPrecache,
		OfflinePath: cfg.AssetOfflinePath,
		Fetcher:     fetcher,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.AssetCacheDir).Msg("asset cache open failed")
	}

	installCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cache.Install(installCtx); err != nil {
		logger.Warn().Err(err).Msg("asset precache incomplete")
	}
	purged, err := cache.Activate()
	if err != nil {
		logger.Warn().Err(err).Msg("asset cache activation failed")
	} else if len(purged) > 0 {
		logger.Info().Strs("purged", purged).Msg("removed old asset caches")
	}
	return cache
}
