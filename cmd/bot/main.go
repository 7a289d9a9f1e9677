package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"campus-order-bot/config"
	"campus-order-bot/internal/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	l, err := logger.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		l.Fatal("failed to start", zap.Error(err))
	}
	if err := app.Run(ctx); err != nil {
		l.Error("stopped with error", zap.Error(err))
	}
	app.Close()
}
