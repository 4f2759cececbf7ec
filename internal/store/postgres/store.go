// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package postgres implements the embedding store on PostgreSQL with the
// pgvector extension. It mirrors the sqlite backend's semantics exactly;
// ranking still happens in the retrieval engine, so the vector column is
// storage, not an ANN index.
package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/templar-dev/templar/internal/store"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

func init() {
	store.RegisterBackend("postgres", func(cfg store.Config) (store.Store, error) {
		return New(cfg.PostgresDSN)
	})
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by PostgreSQL + pgvector.
type Store struct {
	db *sql.DB
}

// New connects to the database at dsn and initialises the schema,
// including the pgvector extension.
func New(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, templarerr.New(templarerr.CodeStoreInvalidInput, "postgres: connection string is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreUnavailable, "opening postgres connection")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, templarerr.Wrap(err, templarerr.CodeStoreUnavailable, "pinging postgres")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "migrating embedding tables")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embedding_versions (
	id            BIGSERIAL PRIMARY KEY,
	model_name    TEXT NOT NULL,
	model_version TEXT NOT NULL,
	dimension     INT NOT NULL CHECK (dimension > 0),
	is_current    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE(model_name, model_version, dimension)
);

CREATE TABLE IF NOT EXISTS embedding_records (
	id            BIGSERIAL PRIMARY KEY,
	template_id   TEXT NOT NULL UNIQUE,
	version_id    BIGINT NOT NULL REFERENCES embedding_versions(id),
	embedding     vector NOT NULL,
	category      TEXT NOT NULL,
	subcategory   TEXT NOT NULL,
	question      TEXT NOT NULL,
	answer        TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	success_rate  DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	usage_count   BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_category ON embedding_records(category, subcategory);
CREATE INDEX IF NOT EXISTS idx_records_hash ON embedding_records(content_hash);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateVersion(ctx context.Context, v *store.EmbeddingVersion) (*store.EmbeddingVersion, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	created := v.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	const ins = `INSERT INTO embedding_versions (model_name, model_version, dimension, is_current, created_at)
VALUES ($1, $2, $3, FALSE, $4)
ON CONFLICT (model_name, model_version, dimension) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, ins, v.ModelName, v.ModelVersion, v.Dimension, created); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "inserting version")
	}

	const sel = `SELECT id, model_name, model_version, dimension, is_current, created_at
FROM embedding_versions WHERE model_name = $1 AND model_version = $2 AND dimension = $3`
	return scanVersion(s.db.QueryRowContext(ctx, sel, v.ModelName, v.ModelVersion, v.Dimension))
}

func (s *Store) CurrentVersion(ctx context.Context) (*store.EmbeddingVersion, error) {
	const q = `SELECT id, model_name, model_version, dimension, is_current, created_at
FROM embedding_versions WHERE is_current`
	v, err := scanVersion(s.db.QueryRowContext(ctx, q))
	if err != nil && templarerr.IsNotFound(err) {
		return nil, templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreVersionNotFound, "no current version")
	}
	return v, err
}

func (s *Store) GetVersion(ctx context.Context, id int64) (*store.EmbeddingVersion, error) {
	const q = `SELECT id, model_name, model_version, dimension, is_current, created_at
FROM embedding_versions WHERE id = $1`
	return scanVersion(s.db.QueryRowContext(ctx, q, id))
}

func scanVersion(row *sql.Row) (*store.EmbeddingVersion, error) {
	var v store.EmbeddingVersion
	err := row.Scan(&v.ID, &v.ModelName, &v.ModelVersion, &v.Dimension, &v.Current, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreVersionNotFound, "version not found")
	}
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "scanning version")
	}
	return &v, nil
}

func (s *Store) PromoteVersion(ctx context.Context, versionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var dimension int
	err = tx.QueryRowContext(ctx, `SELECT dimension FROM embedding_versions WHERE id = $1`, versionID).Scan(&dimension)
	if err == sql.ErrNoRows {
		return templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreVersionNotFound, "promoting unknown version",
			templarerr.FieldVersionID(versionID))
	}
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "reading version dimension")
	}

	var badTemplate string
	err = tx.QueryRowContext(ctx,
		`SELECT template_id FROM embedding_records WHERE version_id = $1 AND vector_dims(embedding) != $2 LIMIT 1`,
		versionID, dimension).Scan(&badTemplate)
	if err == nil {
		return templarerr.New(templarerr.CodeStorePromoteViolation, "record vector disagrees with version dimension",
			templarerr.FieldTemplateID(badTemplate), templarerr.FieldVersionID(versionID))
	}
	if err != sql.ErrNoRows {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "checking record dimensions")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE embedding_versions SET is_current = FALSE WHERE is_current`); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "unsetting current version")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE embedding_versions SET is_current = TRUE WHERE id = $1`, versionID); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "setting current version")
	}

	if err := tx.Commit(); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "committing promotion")
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec *store.EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTx(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "committing upsert")
	}
	return nil
}

func (s *Store) UpsertBatch(ctx context.Context, recs []*store.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if err := upsertTx(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "committing batch upsert")
	}
	return nil
}

func upsertTx(ctx context.Context, tx *sql.Tx, rec *store.EmbeddingRecord) error {
	var dimension int
	err := tx.QueryRowContext(ctx, `SELECT dimension FROM embedding_versions WHERE id = $1`, rec.VersionID).Scan(&dimension)
	if err == sql.ErrNoRows {
		return templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreVersionNotFound, "record references unknown version",
			templarerr.FieldTemplateID(rec.TemplateID), templarerr.FieldVersionID(rec.VersionID))
	}
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "reading version dimension")
	}

	if len(rec.Vector) != dimension {
		return templarerr.Wrapf(store.ErrDimensionMismatch, templarerr.CodeStoreDimensionMismatch,
			"template %s: vector length %d, version %d declares %d",
			rec.TemplateID, len(rec.Vector), rec.VersionID, dimension)
	}

	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	const q = `INSERT INTO embedding_records
	(template_id, version_id, embedding, category, subcategory, question, answer, content_hash, success_rate, usage_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (template_id) DO UPDATE SET
	version_id   = excluded.version_id,
	embedding    = excluded.embedding,
	category     = excluded.category,
	subcategory  = excluded.subcategory,
	question     = excluded.question,
	answer       = excluded.answer,
	content_hash = excluded.content_hash,
	updated_at   = excluded.updated_at`

	_, err = tx.ExecContext(ctx, q,
		rec.TemplateID, rec.VersionID, pgvector.NewVector(rec.Vector), rec.Category, rec.Subcategory,
		rec.Question, rec.Answer, rec.ContentHash, rec.SuccessRate, rec.UsageCount, created, updated)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "upserting record",
			templarerr.FieldTemplateID(rec.TemplateID))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, templateID string) (*store.EmbeddingRecord, error) {
	const q = `SELECT template_id, version_id, embedding, category, subcategory, question, answer,
	content_hash, success_rate, usage_count, created_at, updated_at
FROM embedding_records WHERE template_id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, templateID))
	if err != nil && templarerr.IsNotFound(err) {
		return nil, templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreRecordNotFound, "record not found",
			templarerr.FieldTemplateID(templateID))
	}
	return rec, err
}

func (s *Store) GetByCategory(ctx context.Context, category, subcategory string) ([]*store.EmbeddingRecord, error) {
	const q = `SELECT r.template_id, r.version_id, r.embedding, r.category, r.subcategory, r.question, r.answer,
	r.content_hash, r.success_rate, r.usage_count, r.created_at, r.updated_at
FROM embedding_records r
JOIN embedding_versions v ON v.id = r.version_id
WHERE v.is_current AND r.category = $1 AND r.subcategory = $2
ORDER BY r.template_id`

	rows, err := s.db.QueryContext(ctx, q, category, subcategory)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "querying records by category",
			templarerr.FieldCategory(category, subcategory))
	}
	defer func() { _ = rows.Close() }()

	var out []*store.EmbeddingRecord
	for rows.Next() {
		rec, err := scanRecordFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "iterating records")
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, templateID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embedding_records WHERE template_id = $1`, templateID); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "deleting record",
			templarerr.FieldTemplateID(templateID))
	}
	return nil
}

// ListHashes reads only the id and hash columns; vectors stay untouched.
func (s *Store) ListHashes(ctx context.Context, versionID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_id, content_hash FROM embedding_records WHERE version_id = $1`, versionID)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "listing content hashes")
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "scanning content hash")
		}
		out[id] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "iterating content hashes")
	}
	return out, nil
}

func (s *Store) RecordUsage(ctx context.Context, templateID string, success bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var count int64
	var rate float64
	err = tx.QueryRowContext(ctx,
		`SELECT usage_count, success_rate FROM embedding_records WHERE template_id = $1 FOR UPDATE`, templateID).Scan(&count, &rate)
	if err == sql.ErrNoRows {
		return templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreRecordNotFound, "record not found",
			templarerr.FieldTemplateID(templateID))
	}
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "reading usage")
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	// The default success rate acts as one pseudo-observation, so a single
	// outcome cannot swing a fresh record to 0.0 or 1.0.
	count++
	rate += (outcome - rate) / float64(count+1)

	_, err = tx.ExecContext(ctx,
		`UPDATE embedding_records SET usage_count = $1, success_rate = $2, updated_at = $3 WHERE template_id = $4`,
		count, rate, time.Now().UTC(), templateID)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "updating usage",
			templarerr.FieldTemplateID(templateID))
	}

	if err := tx.Commit(); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "committing usage update")
	}
	return nil
}

func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embedding_records r JOIN embedding_versions v ON v.id = r.version_id WHERE v.is_current`).Scan(&n)
	if err != nil {
		return 0, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "counting records")
	}
	return n, nil
}

func (s *Store) ValidateIntegrity(ctx context.Context) (*store.IntegrityReport, error) {
	report := &store.IntegrityReport{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_records`).Scan(&report.Records); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "counting records")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_versions`).Scan(&report.Versions); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "counting versions")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_versions WHERE is_current`).Scan(&report.CurrentVersions); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "counting current versions")
	}
	if report.CurrentVersions > 1 {
		report.Issues = append(report.Issues, store.IntegrityIssue{
			Kind:   store.IssueMultipleCurrent,
			Detail: "more than one version is marked current",
		})
	}

	if err := s.collectIssues(ctx, report,
		`SELECT r.template_id, r.version_id FROM embedding_records r
LEFT JOIN embedding_versions v ON v.id = r.version_id WHERE v.id IS NULL`,
		store.IssueOrphanedRecord, "record references a version that does not exist"); err != nil {
		return nil, err
	}

	if err := s.collectIssues(ctx, report,
		`SELECT r.template_id, r.version_id FROM embedding_records r
JOIN embedding_versions v ON v.id = r.version_id WHERE vector_dims(r.embedding) != v.dimension`,
		store.IssueDimensionMismatch, "vector length disagrees with version dimension"); err != nil {
		return nil, err
	}

	return report, nil
}

func (s *Store) collectIssues(ctx context.Context, report *store.IntegrityReport, q string, kind store.IntegrityIssueKind, detail string) error {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "running integrity query")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		issue := store.IntegrityIssue{Kind: kind, Detail: detail}
		if err := rows.Scan(&issue.TemplateID, &issue.VersionID); err != nil {
			return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "scanning integrity issue")
		}
		report.Issues = append(report.Issues, issue)
	}
	if err := rows.Err(); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "iterating integrity issues")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*store.EmbeddingRecord, error) {
	rec, err := scanRecordFrom(row)
	if err == sql.ErrNoRows {
		return nil, templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreRecordNotFound, "record not found")
	}
	return rec, err
}

func scanRecordFrom(sc rowScanner) (*store.EmbeddingRecord, error) {
	var rec store.EmbeddingRecord
	var vec pgvector.Vector

	err := sc.Scan(&rec.TemplateID, &rec.VersionID, &vec, &rec.Category, &rec.Subcategory,
		&rec.Question, &rec.Answer, &rec.ContentHash, &rec.SuccessRate, &rec.UsageCount,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "scanning record")
	}

	rec.Vector = vec.Slice()
	return &rec, nil
}
