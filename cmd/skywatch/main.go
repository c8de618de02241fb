package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"skywatch/internal/api"
	"skywatch/internal/config"
	"skywatch/internal/correlate"
	"skywatch/internal/hub"
	"skywatch/internal/ingest"
	"skywatch/internal/logging"
	"skywatch/internal/opensky"
	"skywatch/internal/service"
	"skywatch/internal/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	// Secrets (feed credentials, DSN) may live in a .env next to the binary.
	_ = godotenv.Load()

	var (
		cfg *config.Manager
		err error
	)
	if *configPath != "" {
		cfg, err = config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.NewDefaultManager()
	}

	logger := logging.NewLogger(cfg.Get().LogLevel)
	logger.Info("starting skywatch", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Get().Storage)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	if err := store.Init(ctx); err != nil {
		logger.Error("init store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	broadcast := hub.New(logger)
	feed := opensky.NewClient(cfg.Get().OpenSky)
	engine := correlate.NewEngine(feed, logger, cfg.Get().Correlation)
	svc := service.New(store, engine, broadcast, logger, cfg.Get().Correlation.RecentLimit)

	ingest.StartKafka(ctx, cfg, svc, logger)
	if err := ingest.StartMQTT(ctx, cfg, svc, logger); err != nil {
		logger.Error("start mqtt ingest", "err", err)
		os.Exit(1)
	}

	api.Start(ctx, cfg, svc, broadcast, logger, version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
}
