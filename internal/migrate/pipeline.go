// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package migrate re-embeds the template catalog into the store. Runs
// are incremental: a content hash per template decides what actually
// goes back to the embedding provider.
package migrate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/templar-dev/templar/internal/provider"
	"github.com/templar-dev/templar/internal/store"
	"github.com/templar-dev/templar/internal/template"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// DefaultBatchSize bounds how many records one transaction writes.
const DefaultBatchSize = 32

// Readiness summarises how usable the target version is after a run.
type Readiness string

const (
	// ReadinessFull means every catalog template is embedded.
	ReadinessFull Readiness = "full"
	// ReadinessPartial means some templates failed but the version is usable.
	ReadinessPartial Readiness = "partial"
	// ReadinessNotReady means the version holds no records at all.
	ReadinessNotReady Readiness = "not_ready"
)

// Failure records one template the run could not embed.
type Failure struct {
	TemplateID string `json:"template_id"`
	Reason     string `json:"reason"`
}

// Report describes one migration run.
type Report struct {
	RunID     string        `json:"run_id"`
	VersionID int64         `json:"version_id"`
	Total     int           `json:"total"`
	New       int           `json:"new"`
	Changed   int           `json:"changed"`
	Unchanged int           `json:"unchanged"`
	Deleted   int           `json:"deleted"`
	Embedded  int           `json:"embedded"`
	Failed    []Failure     `json:"failed,omitempty"`
	Readiness Readiness     `json:"readiness"`
	Promoted  bool          `json:"promoted"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline drives incremental migration runs.
type Pipeline struct {
	store     store.Store
	embedder  provider.Embedder
	logger    *slog.Logger
	batchSize int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize overrides the write batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// New creates a migration pipeline.
func New(s store.Store, e provider.Embedder, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{store: s, embedder: e, logger: logger, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run migrates the catalog onto the embedder's version. Only templates
// whose content hash differs from the stored one are re-embedded; a
// single template failing skips that template, not the run. The target
// version is promoted when it ends up usable and passes the integrity
// scan; otherwise the previously current version stays active.
func (p *Pipeline) Run(ctx context.Context, templates []template.Template) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), Total: len(templates)}

	version, err := p.ensureVersion(ctx)
	if err != nil {
		return nil, err
	}
	report.VersionID = version.ID

	stored, err := p.store.ListHashes(ctx, version.ID)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeMigrationRunFailure, "listing stored hashes")
	}

	pending, stale := p.diff(templates, stored, report)

	p.logger.Info("migration plan",
		"run_id", report.RunID,
		"version_id", version.ID,
		"total", report.Total,
		"new", report.New,
		"changed", report.Changed,
		"unchanged", report.Unchanged,
		"deleted", report.Deleted)

	if err := p.embedPending(ctx, version, pending, stale, report); err != nil {
		return nil, err
	}

	report.Readiness = p.readiness(ctx, version.ID, report)

	if report.Readiness != ReadinessNotReady {
		if err := p.promote(ctx, version.ID); err != nil {
			return nil, err
		}
		report.Promoted = true
	}

	report.Duration = time.Since(start)
	p.logger.Info("migration finished",
		"run_id", report.RunID,
		"embedded", report.Embedded,
		"failed", len(report.Failed),
		"readiness", string(report.Readiness),
		"promoted", report.Promoted,
		"duration", report.Duration)
	return report, nil
}

// ensureVersion registers the embedder's model identity as a version.
// CreateVersion is idempotent on the model/version/dimension triple, so
// repeated runs against the same model converge on one version row.
func (p *Pipeline) ensureVersion(ctx context.Context) (*store.EmbeddingVersion, error) {
	name, modelVersion := p.embedder.Model()
	v, err := p.store.CreateVersion(ctx, &store.EmbeddingVersion{
		ModelName:    name,
		ModelVersion: modelVersion,
		Dimension:    p.embedder.Dimension(),
	})
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeMigrationRunFailure, "registering embedding version")
	}
	return v, nil
}

// diff splits the catalog into work items, counts the buckets, and
// returns the ids of records whose templates left the catalog.
func (p *Pipeline) diff(templates []template.Template, stored map[string]string, report *Report) ([]template.Template, []string) {
	inCatalog := make(map[string]struct{}, len(templates))

	var pending []template.Template
	var stale []string
	for _, tpl := range templates {
		inCatalog[tpl.ID] = struct{}{}

		prevHash, exists := stored[tpl.ID]
		switch {
		case !exists:
			report.New++
			pending = append(pending, tpl)
		case prevHash != template.ContentHash(tpl.Question, tpl.Answer):
			report.Changed++
			pending = append(pending, tpl)
		default:
			report.Unchanged++
		}
	}

	for id := range stored {
		if _, ok := inCatalog[id]; !ok {
			report.Deleted++
			stale = append(stale, id)
		}
	}
	return pending, stale
}

// embedPending embeds the changed templates and writes them in batches.
// Provider failures are isolated per template; store failures abort the
// run, because a failed transaction means the plan no longer matches
// reality.
func (p *Pipeline) embedPending(ctx context.Context, version *store.EmbeddingVersion, pending []template.Template, stale []string, report *Report) error {
	for _, id := range stale {
		if err := p.store.Delete(ctx, id); err != nil {
			return templarerr.Wrap(err, templarerr.CodeMigrationRunFailure, "deleting stale record",
				templarerr.FieldTemplateID(id))
		}
	}

	var batch []*store.EmbeddingRecord
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.store.UpsertBatch(ctx, batch); err != nil {
			return templarerr.Wrap(err, templarerr.CodeMigrationRunFailure, "writing record batch")
		}
		report.Embedded += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, tpl := range pending {
		vec, err := p.embedder.Embed(ctx, tpl.EmbeddingText())
		if err != nil {
			p.logger.Warn("embedding failed", "run_id", report.RunID, "template_id", tpl.ID, "error", err)
			report.Failed = append(report.Failed, Failure{TemplateID: tpl.ID, Reason: err.Error()})
			continue
		}

		batch = append(batch, &store.EmbeddingRecord{
			TemplateID:  tpl.ID,
			VersionID:   version.ID,
			Vector:      vec,
			Category:    tpl.Category,
			Subcategory: tpl.Subcategory,
			Question:    tpl.Question,
			Answer:      tpl.Answer,
			ContentHash: template.ContentHash(tpl.Question, tpl.Answer),
			SuccessRate: store.DefaultSuccessRate,
		})

		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (p *Pipeline) readiness(ctx context.Context, versionID int64, report *Report) Readiness {
	hashes, err := p.store.ListHashes(ctx, versionID)
	if err != nil || len(hashes) == 0 {
		return ReadinessNotReady
	}
	if len(report.Failed) == 0 {
		return ReadinessFull
	}
	return ReadinessPartial
}

// promote flips the version to current, gated on the integrity scan. An
// integrity failure is fatal for the run and leaves the prior current
// version serving traffic.
func (p *Pipeline) promote(ctx context.Context, versionID int64) error {
	integrity, err := p.store.ValidateIntegrity(ctx)
	if err != nil {
		return templarerr.Wrap(err, templarerr.CodeMigrationRunFailure, "running integrity scan")
	}
	if !integrity.OK() {
		return templarerr.Errorf(templarerr.CodeMigrationPromoteViolation,
			"refusing promotion: %d integrity issues, first: %s",
			len(integrity.Issues), integrity.Issues[0].String())
	}

	if err := p.store.PromoteVersion(ctx, versionID); err != nil {
		return templarerr.Wrap(err, templarerr.CodeMigrationPromoteViolation, "promoting version",
			templarerr.FieldVersionID(versionID))
	}
	return nil
}
