package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/config"
	"github.com/phenex-cohort-server/internal/mcp"
	"github.com/phenex-cohort-server/internal/phenex"
	"github.com/phenex-cohort-server/internal/repository"
	"github.com/phenex-cohort-server/internal/session"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	// Stdout carries the MCP protocol; all logging goes to stderr.
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if strings.EqualFold(cfg.Logging.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	client := phenex.NewClient(phenex.Config{
		BaseURL:   cfg.Phenex.BaseURL,
		APIKey:    cfg.Phenex.APIKey,
		Timeout:   cfg.Phenex.Timeout,
		RateLimit: cfg.Phenex.RateLimit,
	}, logger)

	// Local agent setups keep cohorts in SQLite; execution and suggestions
	// still run against the remote backend.
	var backend session.Backend = client
	if cfg.LocalStore.Enabled {
		store, err := repository.NewLocalStore(cfg.LocalStore.Path)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open local store")
		}
		defer store.Close()
		backend = session.Composite(store, client, client)
	}

	sessions, err := session.NewManager(backend, cfg.Server.SessionLimit, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session manager")
	}

	server := mcp.NewServer(sessions, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server")
		cancel()
	}()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Fatal("MCP server failed")
	}
	logger.Info("MCP server stopped")
}
