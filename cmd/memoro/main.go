package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/memoro/internal/app"
	"github.com/ternarybob/memoro/internal/common"
)

func main() {
	configPath := flag.String("config", "memoro.toml", "Path to TOML configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		os.Exit(0)
	}

	common.PrintBanner()

	// A missing config file falls back to defaults
	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}

	config, err := common.LoadFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := common.InitLogger(config)

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx := context.Background()
	if err := application.Initialize(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		application.Shutdown(ctx)
		os.Exit(1)
	}

	logger.Info().
		Str("version", common.GetVersion()).
		Msg("Memoro running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().
		Str("signal", sig.String()).
		Msg("Signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
		os.Exit(1)
	}
}
