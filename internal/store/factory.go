// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package store

import (
	"log/slog"
	"sync"

	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// Config selects and parameterizes a storage backend.
type Config struct {
	Backend     string // "sqlite" (default), "postgres", or "memory"
	SQLitePath  string // file path for the sqlite backend
	PostgresDSN string // connection string for the postgres backend
}

// Factory creates a Store for a named backend.
type Factory func(cfg Config) (Store, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory function for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

func init() {
	RegisterBackend("memory", func(Config) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg Config) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates a Store for the configured backend.
func Open(cfg Config) (Store, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, templarerr.Errorf(templarerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return factory(cfg)
}

// OpenWithFallback opens the configured backend, and when it cannot be
// reached falls back to the non-persistent in-memory store so retrieval can
// keep serving. The degraded return reports which happened; nothing about
// the failure is swallowed silently.
func OpenWithFallback(cfg Config, logger *slog.Logger) (s Store, degraded bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err = Open(cfg)
	if err == nil {
		return s, false, nil
	}

	// An unknown backend name is an operator mistake, not an outage.
	if templarerr.HasCode(err, templarerr.CodeStoreBackendUnsupported) {
		return nil, false, err
	}

	logger.Warn("storage backend unreachable, falling back to in-memory store",
		"backend", resolveBackend(cfg),
		"error", err)

	return NewMemoryStore(), true, nil
}
