// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/templar-dev/templar/internal/store"
	"github.com/templar-dev/templar/internal/store/sqlite"
	"github.com/templar-dev/templar/internal/template"

	"github.com/stretchr/testify/require"
)

// testDir creates a temp directory for a test and returns cleanup func.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "templar-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testDir(t), name+".db")
}

// testStore opens a store on a fresh database.
func testStore(t *testing.T, name string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(testDBPath(t, name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testVersion registers a version with the given dimension.
func testVersion(t *testing.T, s *sqlite.Store, model string, dim int) *store.EmbeddingVersion {
	t.Helper()
	v, err := s.CreateVersion(context.Background(), &store.EmbeddingVersion{
		ModelName:    model,
		ModelVersion: "v1",
		Dimension:    dim,
	})
	require.NoError(t, err)
	return v
}

// testRecord builds a valid record in category A/X.
func testRecord(templateID string, versionID int64, vec []float32) *store.EmbeddingRecord {
	return &store.EmbeddingRecord{
		TemplateID:  templateID,
		VersionID:   versionID,
		Vector:      vec,
		Category:    "A",
		Subcategory: "X",
		Question:    "question for " + templateID,
		Answer:      "answer for " + templateID,
		ContentHash: template.ContentHash("question for "+templateID, "answer for "+templateID),
		SuccessRate: store.DefaultSuccessRate,
	}
}
