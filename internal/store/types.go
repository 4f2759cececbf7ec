// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package store

import (
	"fmt"
	"time"
)

// DefaultSuccessRate seeds new records with a neutral historical score.
const DefaultSuccessRate = 0.5

// EmbeddingVersion identifies one embedding-model configuration. The triple
// (ModelName, ModelVersion, Dimension) is unique; at most one version is
// current at any moment.
type EmbeddingVersion struct {
	ID           int64
	ModelName    string
	ModelVersion string
	Dimension    int
	Current      bool
	CreatedAt    time.Time
}

// EmbeddingRecord is one indexed template: its vector under a specific
// version plus the denormalized source text used for display and hashing.
type EmbeddingRecord struct {
	TemplateID  string
	VersionID   int64
	Vector      []float32
	Category    string
	Subcategory string
	Question    string
	Answer      string
	ContentHash string
	SuccessRate float64
	UsageCount  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy so callers can never mutate stored state.
func (r *EmbeddingRecord) Clone() *EmbeddingRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Vector = append([]float32(nil), r.Vector...)
	return &out
}

// IntegrityIssueKind classifies a single integrity finding.
type IntegrityIssueKind string

const (
	IssueDimensionMismatch IntegrityIssueKind = "dimension_mismatch"
	IssueMultipleCurrent   IntegrityIssueKind = "multiple_current_versions"
	IssueOrphanedRecord    IntegrityIssueKind = "orphaned_record"
	IssueMissingVector     IntegrityIssueKind = "missing_vector"
)

// IntegrityIssue is one violation found by ValidateIntegrity.
type IntegrityIssue struct {
	Kind       IntegrityIssueKind
	TemplateID string
	VersionID  int64
	Detail     string
}

func (i IntegrityIssue) String() string {
	if i.TemplateID != "" {
		return fmt.Sprintf("%s: template %s (version %d): %s", i.Kind, i.TemplateID, i.VersionID, i.Detail)
	}
	return fmt.Sprintf("%s: %s", i.Kind, i.Detail)
}

// IntegrityReport summarizes a full integrity scan of the store.
type IntegrityReport struct {
	Records         int64
	Versions        int
	CurrentVersions int
	Issues          []IntegrityIssue
}

// OK reports whether the scan found no violations. Zero current versions is
// acceptable only at first boot, before any promotion has happened; the
// report still counts as OK then because there is nothing to serve yet.
func (r *IntegrityReport) OK() bool {
	return len(r.Issues) == 0
}
