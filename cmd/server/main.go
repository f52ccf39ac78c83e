package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/Masparrito/lactokeeper-sub001/internal/server"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: "json"})
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(context.Background(), "server stopped with error", "error", err)
		os.Exit(1)
	}
}
