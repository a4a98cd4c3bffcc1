package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/kirinyoku/seatline/docs"
	"github.com/kirinyoku/seatline/internal/app"
	"github.com/kirinyoku/seatline/internal/config"
	"github.com/kirinyoku/seatline/internal/logger"
	"go.uber.org/zap"
)

// @title Seatline API
// @version 1.0
// @description Seat reservation and booking lifecycle service.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to create application", zap.Error(err))
	}

	if err := application.Run(ctx); err != nil {
		log.Error("application finished with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
