package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/api"
	"github.com/phenex-cohort-server/internal/cache"
	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/config"
	"github.com/phenex-cohort-server/internal/database"
	"github.com/phenex-cohort-server/internal/domain"
	"github.com/phenex-cohort-server/internal/feedback"
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

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting Phenex cohort server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The Phenex backend runs executions and assistant suggestions; cohort
	// persistence is local (PostgreSQL or SQLite) fronted by the cache.
	client := phenex.NewClient(phenex.Config{
		BaseURL:   cfg.Phenex.BaseURL,
		APIKey:    cfg.Phenex.APIKey,
		Timeout:   cfg.Phenex.Timeout,
		RateLimit: cfg.Phenex.RateLimit,
	}, logger)

	var store cohort.Store
	var codelists api.Codelists = client
	var feedbackStore feedback.Store

	if cfg.LocalStore.Enabled {
		localStore, err := repository.NewLocalStore(cfg.LocalStore.Path)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open local store")
		}
		defer localStore.Close()
		store = localStore

		feedbackPath := filepath.Join(filepath.Dir(cfg.LocalStore.Path), "feedback.db")
		feedbackStore, err = feedback.NewSQLiteStore(feedbackPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open feedback log")
		}
		defer feedbackStore.Close()
	} else {
		if err := runMigrations(cfg.Database, logger); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}

		db, err := database.NewConnection(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			Database:    cfg.Database.Database,
			Username:    cfg.Database.Username,
			Password:    cfg.Database.Password,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    int32(cfg.Database.MaxOpenConns),
			MinConns:    int32(cfg.Database.MaxIdleConns),
			MaxConnLife: cfg.Database.ConnMaxLifetime,
			MaxConnIdle: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()
		store = repository.NewCohortRepository(db.Pool, logger)

		codelistStore, err := repository.NewCodelistStore(configManager.GetDatabaseConnectionString(), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open codelist store")
		}
		defer codelistStore.Close()
		codelists = &codelistAdapter{store: codelistStore}

		feedbackStore, err = feedback.NewPostgresStoreFromDSN(configManager.GetDatabaseConnectionString())
		if err != nil {
			logger.WithError(err).Fatal("Failed to open feedback log")
		}
		defer feedbackStore.Close()
	}

	cohortCache, err := cache.New(store, cache.Config{
		LRUSize:   cfg.Cache.LRUSize,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		TTL:       cfg.Cache.TTL,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create cohort cache")
	}
	defer cohortCache.Close()

	backend := session.Composite(cohortCache, client, client)
	sessions, err := session.NewManager(backend, cfg.Server.SessionLimit, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session manager")
	}

	server := api.NewServer(configManager, sessions, codelists, feedbackStore, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func runMigrations(cfg config.DatabaseConfig, logger *logrus.Logger) error {
	databaseURL := "postgres://" + url.UserPassword(cfg.Username, cfg.Password).String() +
		"@" + cfg.Host + ":" + strconv.Itoa(cfg.Port) + "/" + cfg.Database +
		"?sslmode=" + cfg.SSLMode

	runner, err := database.NewMigrationRunner(databaseURL, "migrations", logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(context.Background())
}

// codelistAdapter exposes the SQL codelist store through the API surface.
type codelistAdapter struct {
	store *repository.CodelistStore
}

func (a *codelistAdapter) ListCodelists(ctx context.Context, cohortID string) ([]domain.Codelist, error) {
	return a.store.List(ctx, cohortID)
}

func (a *codelistAdapter) UploadCodelist(ctx context.Context, cohortID string, codelist *domain.Codelist) (*domain.Codelist, error) {
	return a.store.Save(ctx, cohortID, codelist)
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
