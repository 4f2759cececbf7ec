// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is the non-persistent Store used as the degraded-mode
// fallback when no durable backend is reachable, and by tests. It mirrors
// the durable backends' semantics exactly, including promotion atomicity.
type MemoryStore struct {
	mu            sync.RWMutex
	versions      map[int64]*EmbeddingVersion
	records       map[string]*EmbeddingRecord
	nextVersionID int64
	currentID     int64 // 0 = no current version yet
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[int64]*EmbeddingVersion),
		records:  make(map[string]*EmbeddingRecord),
	}
}

func (m *MemoryStore) CreateVersion(_ context.Context, v *EmbeddingVersion) (*EmbeddingVersion, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.versions {
		if existing.ModelName == v.ModelName && existing.ModelVersion == v.ModelVersion && existing.Dimension == v.Dimension {
			out := *existing
			return &out, nil
		}
	}

	m.nextVersionID++
	stored := *v
	stored.ID = m.nextVersionID
	stored.Current = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.versions[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (m *MemoryStore) CurrentVersion(_ context.Context) (*EmbeddingVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentID == 0 {
		return nil, templarerr.Wrap(ErrNotFound, templarerr.CodeStoreVersionNotFound, "no current version")
	}
	out := *m.versions[m.currentID]
	return &out, nil
}

func (m *MemoryStore) GetVersion(_ context.Context, id int64) (*EmbeddingVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.versions[id]
	if !ok {
		return nil, templarerr.Wrap(ErrNotFound, templarerr.CodeStoreVersionNotFound, "version not found", templarerr.FieldVersionID(id))
	}
	out := *v
	return &out, nil
}

func (m *MemoryStore) PromoteVersion(_ context.Context, versionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.versions[versionID]
	if !ok {
		return templarerr.Wrap(ErrNotFound, templarerr.CodeStoreVersionNotFound, "promoting unknown version", templarerr.FieldVersionID(versionID))
	}

	// Every record under the candidate version must carry a vector of the
	// declared dimension, or the whole promotion fails and the prior
	// current version stays active.
	for _, rec := range m.records {
		if rec.VersionID != versionID {
			continue
		}
		if len(rec.Vector) == 0 {
			return templarerr.New(templarerr.CodeStorePromoteViolation, "record missing vector",
				templarerr.FieldTemplateID(rec.TemplateID), templarerr.FieldVersionID(versionID))
		}
		if len(rec.Vector) != v.Dimension {
			return templarerr.Errorf(templarerr.CodeStorePromoteViolation,
				"record %s has vector length %d, version %d declares %d",
				rec.TemplateID, len(rec.Vector), versionID, v.Dimension)
		}
	}

	if m.currentID != 0 && m.currentID != versionID {
		m.versions[m.currentID].Current = false
	}
	v.Current = true
	m.currentID = versionID
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, rec *EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(rec)
}

func (m *MemoryStore) UpsertBatch(_ context.Context, recs []*EmbeddingRecord) error {
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch against version dimensions before touching
	// state, so a failed batch leaves nothing half-written.
	for _, rec := range recs {
		if err := m.checkDimensionLocked(rec); err != nil {
			return err
		}
	}
	for _, rec := range recs {
		if err := m.upsertLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) checkDimensionLocked(rec *EmbeddingRecord) error {
	v, ok := m.versions[rec.VersionID]
	if !ok {
		return templarerr.Wrap(ErrNotFound, templarerr.CodeStoreVersionNotFound, "record references unknown version",
			templarerr.FieldTemplateID(rec.TemplateID), templarerr.FieldVersionID(rec.VersionID))
	}
	if len(rec.Vector) != v.Dimension {
		return templarerr.Wrapf(ErrDimensionMismatch, templarerr.CodeStoreDimensionMismatch,
			"template %s: vector length %d, version %d declares %d",
			rec.TemplateID, len(rec.Vector), rec.VersionID, v.Dimension)
	}
	return nil
}

func (m *MemoryStore) upsertLocked(rec *EmbeddingRecord) error {
	if err := m.checkDimensionLocked(rec); err != nil {
		return err
	}

	now := time.Now().UTC()
	stored := rec.Clone()

	if prev, ok := m.records[rec.TemplateID]; ok {
		// Updates keep identity and history, replace content.
		stored.CreatedAt = prev.CreatedAt
		stored.SuccessRate = prev.SuccessRate
		stored.UsageCount = prev.UsageCount
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = now
		}
	} else {
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = stored.CreatedAt
		}
	}

	m.records[rec.TemplateID] = stored
	return nil
}

func (m *MemoryStore) Get(_ context.Context, templateID string) (*EmbeddingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[templateID]
	if !ok {
		return nil, templarerr.Wrap(ErrNotFound, templarerr.CodeStoreRecordNotFound, "record not found", templarerr.FieldTemplateID(templateID))
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) GetByCategory(_ context.Context, category, subcategory string) ([]*EmbeddingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentID == 0 {
		return nil, nil
	}

	var out []*EmbeddingRecord
	for _, rec := range m.records {
		if rec.VersionID != m.currentID {
			continue
		}
		if rec.Category != category || rec.Subcategory != subcategory {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, templateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, templateID)
	return nil
}

func (m *MemoryStore) ListHashes(_ context.Context, versionID int64) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string)
	for _, rec := range m.records {
		if rec.VersionID == versionID {
			out[rec.TemplateID] = rec.ContentHash
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, templateID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[templateID]
	if !ok {
		return templarerr.Wrap(ErrNotFound, templarerr.CodeStoreRecordNotFound, "record not found", templarerr.FieldTemplateID(templateID))
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	// The default success rate acts as one pseudo-observation, so a single
	// outcome cannot swing a fresh record to 0.0 or 1.0.
	rec.UsageCount++
	rec.SuccessRate += (outcome - rec.SuccessRate) / float64(rec.UsageCount+1)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CountRecords(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentID == 0 {
		return 0, nil
	}
	var n int64
	for _, rec := range m.records {
		if rec.VersionID == m.currentID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ValidateIntegrity(_ context.Context) (*IntegrityReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := &IntegrityReport{
		Records:  int64(len(m.records)),
		Versions: len(m.versions),
	}

	for _, v := range m.versions {
		if v.Current {
			report.CurrentVersions++
		}
	}
	if report.CurrentVersions > 1 {
		report.Issues = append(report.Issues, IntegrityIssue{
			Kind:   IssueMultipleCurrent,
			Detail: "more than one version is marked current",
		})
	}

	for _, rec := range m.records {
		v, ok := m.versions[rec.VersionID]
		if !ok {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:       IssueOrphanedRecord,
				TemplateID: rec.TemplateID,
				VersionID:  rec.VersionID,
				Detail:     "record references a version that does not exist",
			})
			continue
		}
		if len(rec.Vector) == 0 {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:       IssueMissingVector,
				TemplateID: rec.TemplateID,
				VersionID:  rec.VersionID,
				Detail:     "record has no vector",
			})
			continue
		}
		if len(rec.Vector) != v.Dimension {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:       IssueDimensionMismatch,
				TemplateID: rec.TemplateID,
				VersionID:  rec.VersionID,
				Detail:     "vector length disagrees with version dimension",
			})
		}
	}

	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Kind != report.Issues[j].Kind {
			return report.Issues[i].Kind < report.Issues[j].Kind
		}
		return report.Issues[i].TemplateID < report.Issues[j].TemplateID
	})

	return report, nil
}

func (m *MemoryStore) Close() error { return nil }
