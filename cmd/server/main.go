package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"fitchat/config"
	"fitchat/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg)

	app, err := InitializeApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	if err := app.DB.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to run database migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Registry.Start()
	if err := app.Feed.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start change feed")
	}
	app.Notify.Start(ctx)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting server")
		if err := app.Server.Run(":" + cfg.Port); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	app.Notify.Stop()
	app.Feed.Stop()
	app.Registry.Stop()
	app.Bus.Close()
}
