package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jetsetgo/group-checkout/internal/api"
	"github.com/jetsetgo/group-checkout/internal/config"
	"github.com/jetsetgo/group-checkout/internal/logging"
	"github.com/jetsetgo/group-checkout/internal/metrics"
	"github.com/jetsetgo/group-checkout/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: search the usual locations)")
	writeConfig := flag.String("write-config", "", "write the effective configuration to this path and exit")
	flag.Parse()

	fmt.Println("Group Access Checkout")
	fmt.Println("=====================")

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Warn("could not load config, using defaults", "error", err)
		cfg = config.Default()
	}

	if *writeConfig != "" {
		if err := cfg.Save(*writeConfig); err != nil {
			slog.Error("could not write config", "path", *writeConfig, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *writeConfig)
		return
	}

	logger, logBuf, closer := logging.Setup(cfg.Log)
	defer closer.Close()

	if cfg.ConfigPath != "" {
		logger.Info("configuration loaded", "path", cfg.ConfigPath)
	}
	logger.Info("upstream", "endpoint", cfg.Upstream.Endpoint)
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "warning", w)
	}

	m := metrics.New()
	client := upstream.NewClient(cfg.Upstream, m)

	server, err := api.NewServer(cfg, client, logBuf, m, logger)
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctrlc
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server closed")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
