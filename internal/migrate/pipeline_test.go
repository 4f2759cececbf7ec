// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package migrate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/templar-dev/templar/internal/migrate"
	"github.com/templar-dev/templar/internal/store"
	"github.com/templar-dev/templar/internal/template"
	templarerr "github.com/templar-dev/templar/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder returns a deterministic vector per input and counts
// how often each input was embedded.
type countingEmbedder struct {
	calls    map[string]int
	failSubs []string
}

func newCountingEmbedder(failSubs ...string) *countingEmbedder {
	return &countingEmbedder{calls: make(map[string]int), failSubs: failSubs}
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls[text]++
	for _, sub := range c.failSubs {
		if strings.Contains(text, sub) {
			return nil, templarerr.New(templarerr.CodeProviderUpstream, "provider down")
		}
	}
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, 1, 0}, nil
}

func (c *countingEmbedder) Dimension() int          { return 3 }
func (c *countingEmbedder) Model() (string, string) { return "counting-model", "v1" }
func (c *countingEmbedder) Close() error            { return nil }

func (c *countingEmbedder) total() int {
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func catalog() []template.Template {
	return []template.Template{
		{ID: "tpl-1", Category: "billing", Subcategory: "refunds", Question: "q1", Answer: "a1"},
		{ID: "tpl-2", Category: "billing", Subcategory: "refunds", Question: "q2", Answer: "a2"},
		{ID: "tpl-3", Category: "access", Subcategory: "password", Question: "q3", Answer: "a3"},
	}
}

func TestPipeline_FirstRunEmbedsEverything(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	emb := newCountingEmbedder()
	p := migrate.New(s, emb, nil)

	report, err := p.Run(ctx, catalog())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.New)
	assert.Equal(t, 3, report.Embedded)
	assert.Zero(t, report.Changed)
	assert.Zero(t, report.Unchanged)
	assert.Empty(t, report.Failed)
	assert.Equal(t, migrate.ReadinessFull, report.Readiness)
	assert.True(t, report.Promoted)

	cur, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.VersionID, cur.ID)
	assert.Equal(t, "counting-model", cur.ModelName)
	assert.Equal(t, 3, cur.Dimension)

	rec, err := s.Get(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, template.ContentHash("q1", "a1"), rec.ContentHash)
	assert.Equal(t, store.DefaultSuccessRate, rec.SuccessRate)
}

func TestPipeline_UnchangedTemplatesNotReembedded(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	emb := newCountingEmbedder()
	p := migrate.New(s, emb, nil)

	_, err := p.Run(ctx, catalog())
	require.NoError(t, err)
	require.Equal(t, 3, emb.total())

	report, err := p.Run(ctx, catalog())
	require.NoError(t, err)

	assert.Equal(t, 3, emb.total(), "second run must not call the provider")
	assert.Equal(t, 3, report.Unchanged)
	assert.Zero(t, report.New)
	assert.Zero(t, report.Embedded)
	assert.Equal(t, migrate.ReadinessFull, report.Readiness)
	assert.True(t, report.Promoted)
}

func TestPipeline_ChangedTemplateReembeddedAlone(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	emb := newCountingEmbedder()
	p := migrate.New(s, emb, nil)

	_, err := p.Run(ctx, catalog())
	require.NoError(t, err)

	edited := catalog()
	edited[1].Answer = "a2 revised"

	report, err := p.Run(ctx, edited)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 2, report.Unchanged)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 4, emb.total())

	rec, err := s.Get(ctx, "tpl-2")
	require.NoError(t, err)
	assert.Equal(t, template.ContentHash("q2", "a2 revised"), rec.ContentHash)
}

func TestPipeline_RemovedTemplateDeleted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := migrate.New(s, newCountingEmbedder(), nil)

	_, err := p.Run(ctx, catalog())
	require.NoError(t, err)

	report, err := p.Run(ctx, catalog()[:2])
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 2, report.Unchanged)

	_, err = s.Get(ctx, "tpl-3")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPipeline_ProviderFailureIsolatedPerTemplate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := migrate.New(s, newCountingEmbedder("q2"), nil)

	report, err := p.Run(ctx, catalog())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Embedded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "tpl-2", report.Failed[0].TemplateID)
	assert.Equal(t, migrate.ReadinessPartial, report.Readiness)
	assert.True(t, report.Promoted, "a usable partial version still goes live")

	_, err = s.Get(ctx, "tpl-1")
	require.NoError(t, err)
	_, err = s.Get(ctx, "tpl-2")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPipeline_NothingUsableSkipsPromotion(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := migrate.New(s, newCountingEmbedder("q"), nil)

	report, err := p.Run(ctx, catalog())
	require.NoError(t, err)

	assert.Zero(t, report.Embedded)
	assert.Len(t, report.Failed, 3)
	assert.Equal(t, migrate.ReadinessNotReady, report.Readiness)
	assert.False(t, report.Promoted)

	_, err = s.CurrentVersion(ctx)
	assert.True(t, errors.Is(err, store.ErrNotFound), "prior state stays: still no current version")
}

func TestPipeline_SmallBatchesStillCoverCatalog(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := migrate.New(s, newCountingEmbedder(), nil, migrate.WithBatchSize(2))

	report, err := p.Run(ctx, catalog())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Embedded)
	n, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
