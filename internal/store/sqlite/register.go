// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package sqlite

import (
	"github.com/templar-dev/templar/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", func(cfg store.Config) (store.Store, error) {
		return New(cfg.SQLitePath)
	})
}
