package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/config"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/secrets"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/server"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/storage"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Secrets are resolved once here and injected; nothing re-reads
	// them later.
	var provider secrets.Provider = secrets.EnvProvider{}
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		provider = secrets.FileProvider{Dir: dir}
	}

	sec, err := secrets.LoadBundle(provider)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets")
	}

	redis, err := storage.NewRedis(cfg.Redis.Addr(), sec.RedisPassword, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redis.Close()

	postgres, err := storage.NewPostgres(cfg.Postgres.DSN(sec.PostgresPassword))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	srv, err := server.New(cfg, redis, postgres, sec, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	go func() {
		if err := srv.Run(":" + cfg.Server.Port); err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
