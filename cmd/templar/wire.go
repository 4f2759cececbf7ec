// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/templar-dev/templar/internal/config"
	"github.com/templar-dev/templar/internal/provider"
	openaiprov "github.com/templar-dev/templar/internal/provider/openai"
	"github.com/templar-dev/templar/internal/retrieval"
	"github.com/templar-dev/templar/internal/store"
	_ "github.com/templar-dev/templar/internal/store/postgres" // register postgres backend
	_ "github.com/templar-dev/templar/internal/store/sqlite"   // register sqlite backend
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// App holds all wired subsystems for one command invocation.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Embedder provider.Embedder

	// Degraded is true when the configured backend was unreachable and
	// an in-memory store took its place.
	Degraded bool
}

// wireApp loads configuration and connects storage and the embedding
// provider. An unreachable backend degrades to memory; an unsupported
// backend name is a configuration error and fails startup.
func wireApp(cmd *cobra.Command) (*App, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging)

	s, degraded, err := store.OpenWithFallback(store.Config{
		Backend:     cfg.Storage.Backend,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := openaiprov.New(openaiprov.Config{
		APIKey:     cfg.Provider.APIKey,
		BaseURL:    cfg.Provider.BaseURL,
		Model:      cfg.Provider.Model,
		Dimensions: cfg.Provider.Dimensions,
		Timeout:    cfg.Provider.Timeout,
		Retry:      provider.RetryConfig{MaxAttempts: cfg.Provider.MaxRetries},
	})
	if err != nil {
		_ = s.Close()
		return nil, templarerr.Wrap(err, templarerr.CodeCLIInternalFailure, "configuring embedding provider")
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    s,
		Embedder: embedder,
		Degraded: degraded,
	}, nil
}

// wireStoreOnly wires configuration and storage without touching the
// provider, for commands that never embed anything.
func wireStoreOnly(cmd *cobra.Command) (*App, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging)

	s, degraded, err := store.OpenWithFallback(store.Config{
		Backend:     cfg.Storage.Backend,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &App{Config: cfg, Logger: logger, Store: s, Degraded: degraded}, nil
}

// Engine builds the retrieval engine over the wired store and embedder,
// with the configured scoring weights.
func (a *App) Engine() *retrieval.Engine {
	return retrieval.New(a.Store, a.Embedder, a.Logger,
		retrieval.WithWeights(a.Config.Retrieval.SimilarityWeight, a.Config.Retrieval.SuccessRateWeight))
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
