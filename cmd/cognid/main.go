package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/cogniagent/internal/config"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
	"github.com/zeusync/cogniagent/internal/injector"
)

func main() {
	configPath := flag.String("config", os.Getenv("COGNI_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	host, err := injector.InitializeHost(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building host:", err)
		os.Exit(1)
	}
	logger := host.Logger
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the server
	if err := host.Server.Start(ctx); err != nil {
		logger.Error("Error starting server", log.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	if err := host.Server.Stop(context.Background()); err != nil {
		logger.Error("Error stopping server", log.Error(err))
	}
	_ = host.Server.Close()
}
