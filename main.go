package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	service "github.com/Codetivate/social-trading-webapp-sub000/internal"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := service.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build app", zap.Error(err))
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("service exited with error", zap.Error(err))
	}
}
