package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hossamadel7/centrny-sub000/internal/access"
	"github.com/hossamadel7/centrny-sub000/internal/config"
	"github.com/hossamadel7/centrny-sub000/internal/content"
	"github.com/hossamadel7/centrny-sub000/internal/db"
	httpserver "github.com/hossamadel7/centrny-sub000/internal/http"
	"github.com/hossamadel7/centrny-sub000/internal/token"
	"github.com/hossamadel7/centrny-sub000/migrations"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "access").Logger()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := migrations.Run(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		log.Info().Msg("migrations applied")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClient.Close()

	store := db.NewStore(pool)
	pins := db.NewPinStore(store)
	grants := db.NewGrantStore(store)
	lessons := db.NewLessonDirectory(store)
	capabilities := token.NewRedisStore(redisClient, cfg.SessionTTL)

	resolver := access.NewResolver(pins, grants)
	redeemer := access.NewRedeemer(pins, lessons, db.NewRedemptionStore(store), capabilities)
	gateway := content.NewGateway(
		capabilities,
		content.NewBaseURLResolver(cfg.ContentBaseURL),
		content.NewLocalFileStore(cfg.FileRoot),
		db.NewViewTracker(store),
		log,
	)

	server := httpserver.NewServer(cfg, resolver, redeemer, gateway, capabilities, db.NewPinAdmin(store), log)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
