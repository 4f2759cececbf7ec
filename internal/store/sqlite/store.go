// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package sqlite implements the embedding store on a local SQLite file,
// with vectors serialized in the sqlite-vec wire format so dimension
// checks can run inside SQL via vec_length().
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/templar-dev/templar/internal/store"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// version and record tables.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, templarerr.New(templarerr.CodeStoreInvalidInput, "sqlite: database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreUnavailable, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, templarerr.Wrap(err, templarerr.CodeStoreUnavailable, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "migrating embedding tables")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS embedding_versions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	model_name    TEXT NOT NULL,
	model_version TEXT NOT NULL,
	dimension     INTEGER NOT NULL CHECK (dimension > 0),
	is_current    INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	UNIQUE(model_name, model_version, dimension)
);

CREATE TABLE IF NOT EXISTS embedding_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id   TEXT NOT NULL UNIQUE,
	version_id    INTEGER NOT NULL REFERENCES embedding_versions(id),
	embedding     BLOB NOT NULL,
	category      TEXT NOT NULL,
	subcategory   TEXT NOT NULL,
	question      TEXT NOT NULL,
	answer        TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	success_rate  REAL NOT NULL DEFAULT 0.5,
	usage_count   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
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
VALUES (?, ?, ?, 0, ?)
ON CONFLICT(model_name, model_version, dimension) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, ins, v.ModelName, v.ModelVersion, v.Dimension, formatTime(created)); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "inserting version")
	}

	const sel = `SELECT id, model_name, model_version, dimension, is_current, created_at
FROM embedding_versions WHERE model_name = ? AND model_version = ? AND dimension = ?`
	return s.scanVersion(s.db.QueryRowContext(ctx, sel, v.ModelName, v.ModelVersion, v.Dimension))
}

func (s *Store) CurrentVersion(ctx context.Context) (*store.EmbeddingVersion, error) {
	const q = `SELECT id, model_name, model_version, dimension, is_current, created_at
FROM embedding_versions WHERE is_current = 1`
	v, err := s.scanVersion(s.db.QueryRowContext(ctx, q))
	if err != nil && templarerr.IsNotFound(err) {
		return nil, templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreVersionNotFound, "no current version")
	}
	return v, err
}

func (s *Store) GetVersion(ctx context.Context, id int64) (*store.EmbeddingVersion, error) {
	const q = `SELECT id, model_name, model_version, dimension, is_current, created_at
FROM embedding_versions WHERE id = ?`
	return s.scanVersion(s.db.QueryRowContext(ctx, q, id))
}

func (s *Store) scanVersion(row *sql.Row) (*store.EmbeddingVersion, error) {
	var v store.EmbeddingVersion
	var current int
	var created string

	err := row.Scan(&v.ID, &v.ModelName, &v.ModelVersion, &v.Dimension, &current, &created)
	if err == sql.ErrNoRows {
		return nil, templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreVersionNotFound, "version not found")
	}
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "scanning version")
	}

	v.Current = current == 1
	v.CreatedAt = parseTime(created)
	return &v, nil
}

// PromoteVersion flips the current pointer to versionID in one transaction.
// Any record under versionID with a vector of the wrong length fails the
// whole operation; the prior current version stays active.
func (s *Store) PromoteVersion(ctx context.Context, versionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var dimension int
	err = tx.QueryRowContext(ctx, `SELECT dimension FROM embedding_versions WHERE id = ?`, versionID).Scan(&dimension)
	if err == sql.ErrNoRows {
		return templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreVersionNotFound, "promoting unknown version",
			templarerr.FieldVersionID(versionID))
	}
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "reading version dimension")
	}

	var badTemplate string
	err = tx.QueryRowContext(ctx,
		`SELECT template_id FROM embedding_records WHERE version_id = ? AND vec_length(embedding) != ? LIMIT 1`,
		versionID, dimension).Scan(&badTemplate)
	if err == nil {
		return templarerr.New(templarerr.CodeStorePromoteViolation, "record vector disagrees with version dimension",
			templarerr.FieldTemplateID(badTemplate), templarerr.FieldVersionID(versionID))
	}
	if err != sql.ErrNoRows {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "checking record dimensions")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE embedding_versions SET is_current = 0 WHERE is_current = 1`); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "unsetting current version")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE embedding_versions SET is_current = 1 WHERE id = ?`, versionID); err != nil {
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

	if err := s.upsertTx(ctx, tx, rec); err != nil {
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
		if err := s.upsertTx(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "committing batch upsert")
	}
	return nil
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx, rec *store.EmbeddingRecord) error {
	var dimension int
	err := tx.QueryRowContext(ctx, `SELECT dimension FROM embedding_versions WHERE id = ?`, rec.VersionID).Scan(&dimension)
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

	blob, err := sqlite_vec.SerializeFloat32(rec.Vector)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "serializing embedding",
			templarerr.FieldTemplateID(rec.TemplateID))
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

	// Updates replace content but keep created_at and usage history.
	const q = `INSERT INTO embedding_records
	(template_id, version_id, embedding, category, subcategory, question, answer, content_hash, success_rate, usage_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(template_id) DO UPDATE SET
	version_id   = excluded.version_id,
	embedding    = excluded.embedding,
	category     = excluded.category,
	subcategory  = excluded.subcategory,
	question     = excluded.question,
	answer       = excluded.answer,
	content_hash = excluded.content_hash,
	updated_at   = excluded.updated_at`

	_, err = tx.ExecContext(ctx, q,
		rec.TemplateID, rec.VersionID, blob, rec.Category, rec.Subcategory,
		rec.Question, rec.Answer, rec.ContentHash, rec.SuccessRate, rec.UsageCount,
		formatTime(created), formatTime(updated))
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "upserting record",
			templarerr.FieldTemplateID(rec.TemplateID))
	}
	return nil
}

const recordColumns = `template_id, version_id, embedding, category, subcategory, question, answer, content_hash, success_rate, usage_count, created_at, updated_at`

func (s *Store) Get(ctx context.Context, templateID string) (*store.EmbeddingRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM embedding_records WHERE template_id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, templateID))
	if err != nil && templarerr.IsNotFound(err) {
		return nil, templarerr.Wrap(store.ErrNotFound, templarerr.CodeStoreRecordNotFound, "record not found",
			templarerr.FieldTemplateID(templateID))
	}
	return rec, err
}

func (s *Store) GetByCategory(ctx context.Context, category, subcategory string) ([]*store.EmbeddingRecord, error) {
	q := `SELECT r.template_id, r.version_id, r.embedding, r.category, r.subcategory, r.question, r.answer,
	r.content_hash, r.success_rate, r.usage_count, r.created_at, r.updated_at
FROM embedding_records r
JOIN embedding_versions v ON v.id = r.version_id
WHERE v.is_current = 1 AND r.category = ? AND r.subcategory = ?
ORDER BY r.template_id`

	rows, err := s.db.QueryContext(ctx, q, category, subcategory)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "querying records by category",
			templarerr.FieldCategory(category, subcategory))
	}
	defer func() { _ = rows.Close() }()

	var out []*store.EmbeddingRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
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
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embedding_records WHERE template_id = ?`, templateID); err != nil {
		return templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "deleting record",
			templarerr.FieldTemplateID(templateID))
	}
	return nil
}

// ListHashes reads only the id and hash columns; vectors stay untouched.
func (s *Store) ListHashes(ctx context.Context, versionID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_id, content_hash FROM embedding_records WHERE version_id = ?`, versionID)
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
		`SELECT usage_count, success_rate FROM embedding_records WHERE template_id = ?`, templateID).Scan(&count, &rate)
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
		`UPDATE embedding_records SET usage_count = ?, success_rate = ?, updated_at = ? WHERE template_id = ?`,
		count, rate, formatTime(time.Now().UTC()), templateID)
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
		`SELECT COUNT(*) FROM embedding_records r JOIN embedding_versions v ON v.id = r.version_id WHERE v.is_current = 1`).Scan(&n)
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_versions WHERE is_current = 1`).Scan(&report.CurrentVersions); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "counting current versions")
	}
	if report.CurrentVersions > 1 {
		report.Issues = append(report.Issues, store.IntegrityIssue{
			Kind:   store.IssueMultipleCurrent,
			Detail: "more than one version is marked current",
		})
	}

	// Orphans: the foreign key guards new writes, but a restored or
	// hand-edited database can still violate it.
	if err := s.collectIssues(ctx, report,
		`SELECT r.template_id, r.version_id FROM embedding_records r
LEFT JOIN embedding_versions v ON v.id = r.version_id WHERE v.id IS NULL`,
		store.IssueOrphanedRecord, "record references a version that does not exist"); err != nil {
		return nil, err
	}

	if err := s.collectIssues(ctx, report,
		`SELECT r.template_id, r.version_id FROM embedding_records r
JOIN embedding_versions v ON v.id = r.version_id WHERE vec_length(r.embedding) != v.dimension`,
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
		var issue store.IntegrityIssue
		issue.Kind = kind
		issue.Detail = detail
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

func scanRecordRows(rows *sql.Rows) (*store.EmbeddingRecord, error) {
	return scanRecordFrom(rows)
}

func scanRecordFrom(sc rowScanner) (*store.EmbeddingRecord, error) {
	var rec store.EmbeddingRecord
	var blob []byte
	var created, updated string

	err := sc.Scan(&rec.TemplateID, &rec.VersionID, &blob, &rec.Category, &rec.Subcategory,
		&rec.Question, &rec.Answer, &rec.ContentHash, &rec.SuccessRate, &rec.UsageCount, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeStoreDatabaseFailure, "scanning record")
	}

	rec.Vector = decodeVector(blob)
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

// decodeVector reads the sqlite-vec float32 wire format: consecutive
// little-endian 4-byte floats.
func decodeVector(blob []byte) []float32 {
	out := make([]float32, 0, len(blob)/4)
	for i := 0; i+4 <= len(blob); i += 4 {
		bits := binary.LittleEndian.Uint32(blob[i:])
		out = append(out, math.Float32frombits(bits))
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
