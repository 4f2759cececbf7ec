// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package store defines the backend-agnostic persistence contract for
// embedding versions and records. Backends (sqlite, postgres, memory)
// register themselves through the factory and must behave identically
// against the contract test suite.
package store

import "context"

// Store persists embedding versions and records. Every backend honors the
// same semantics: upserts are idempotent, reads by category see only the
// current version, and promotion is an atomic two-step flip.
type Store interface {
	// Upsert inserts the record if its template id is absent, else updates
	// it in place. Vectors whose length disagrees with the owning version's
	// dimension are rejected and never stored.
	Upsert(ctx context.Context, rec *EmbeddingRecord) error

	// UpsertBatch applies all upserts inside one transaction. Either every
	// record in the batch lands or none of them do.
	UpsertBatch(ctx context.Context, recs []*EmbeddingRecord) error

	// Get returns the live record for a template id.
	Get(ctx context.Context, templateID string) (*EmbeddingRecord, error)

	// GetByCategory returns records in the given category/subcategory that
	// belong to the current version, ordered by template id.
	GetByCategory(ctx context.Context, category, subcategory string) ([]*EmbeddingRecord, error)

	// Delete removes the record for a template id. Deleting an absent id
	// is not an error.
	Delete(ctx context.Context, templateID string) error

	// ListHashes returns template id -> content hash for every record under
	// the given version. Backends implement this without deserializing
	// vectors; it is the cheap scan behind change detection.
	ListHashes(ctx context.Context, versionID int64) (map[string]string, error)

	// CreateVersion registers a model configuration and assigns its id.
	// Re-registering an existing (model, version, dimension) triple returns
	// the existing row unchanged.
	CreateVersion(ctx context.Context, v *EmbeddingVersion) (*EmbeddingVersion, error)

	// CurrentVersion returns the single current version, or ErrNotFound
	// before the first promotion.
	CurrentVersion(ctx context.Context) (*EmbeddingVersion, error)

	// GetVersion returns a version by id.
	GetVersion(ctx context.Context, id int64) (*EmbeddingVersion, error)

	// PromoteVersion atomically makes versionID current and the prior
	// current version non-current. The whole operation fails, leaving the
	// prior version active, if any record under versionID is missing a
	// vector or carries one of the wrong dimension.
	PromoteVersion(ctx context.Context, versionID int64) error

	// RecordUsage increments a record's usage count and folds the outcome
	// into its success rate as a running mean. Usage counts never decrease.
	RecordUsage(ctx context.Context, templateID string, success bool) error

	// CountRecords returns the number of records under the current version.
	CountRecords(ctx context.Context) (int64, error)

	// ValidateIntegrity scans for dimension mismatches, orphaned records,
	// and duplicate current versions.
	ValidateIntegrity(ctx context.Context) (*IntegrityReport, error)

	Close() error
}
