package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"bundlex/internal/bundle"
	"bundlex/internal/config"
	"bundlex/internal/daemon"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
)

func main() {
	configPath := flag.String("config", "", "path to the bundlex config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Args(logging.Error(err))...)
		return
	}

	client := bundle.NewCLI(bundle.WithBinary(cfg.Tools.BundleBinary))

	d, err := daemon.New(cfg, store, client, logger)
	if err != nil {
		logger.Error("create daemon", logging.Args(logging.Error(err))...)
		_ = store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Args(logging.Error(err))...)
		return
	}
	logger.Info("api listening", logging.Args(logging.String("addr", d.Addr()))...)

	<-ctx.Done()
	logger.Info("bundlexd shutting down")
}
