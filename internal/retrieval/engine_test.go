// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package retrieval_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/templar-dev/templar/internal/retrieval"
	"github.com/templar-dev/templar/internal/store"
	"github.com/templar-dev/templar/internal/template"
	templarerr "github.com/templar-dev/templar/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder maps query text to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	dim     int
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	vec, ok := s.vectors[text]
	if !ok {
		return nil, templarerr.Errorf(templarerr.CodeProviderUpstream, "no stub vector for %q", text)
	}
	return vec, nil
}

func (s *stubEmbedder) Dimension() int          { return s.dim }
func (s *stubEmbedder) Model() (string, string) { return "stub-model", "v1" }
func (s *stubEmbedder) Close() error            { return nil }

func seedStore(t *testing.T, recs ...*store.EmbeddingRecord) store.Store {
	t.Helper()
	ctx := context.Background()

	s := store.NewMemoryStore()
	v, err := s.CreateVersion(ctx, &store.EmbeddingVersion{ModelName: "stub-model", ModelVersion: "v1", Dimension: 3})
	require.NoError(t, err)

	for _, rec := range recs {
		rec.VersionID = v.ID
		require.NoError(t, s.Upsert(ctx, rec))
	}
	require.NoError(t, s.PromoteVersion(ctx, v.ID))
	return s
}

func record(id string, vec []float32, successRate float64) *store.EmbeddingRecord {
	q := "question " + id
	a := "answer " + id
	return &store.EmbeddingRecord{
		TemplateID:  id,
		Vector:      vec,
		Category:    "billing",
		Subcategory: "refunds",
		Question:    q,
		Answer:      a,
		ContentHash: template.ContentHash(q, a),
		SuccessRate: successRate,
	}
}

func TestEngine_RanksBySimilarity(t *testing.T) {
	s := seedStore(t,
		record("tpl-1", []float32{1, 0, 0}, 0.5),
		record("tpl-2", []float32{0, 1, 0}, 0.5),
		record("tpl-3", []float32{0, 0, 1}, 0.5),
	)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{
		"how do refunds work": {0, 1, 0},
	}}
	engine := retrieval.New(s, emb, nil)

	res, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query:       "how do refunds work",
		Category:    "billing",
		Subcategory: "refunds",
	})
	require.NoError(t, err)

	require.Len(t, res.Matches, 3)
	assert.Equal(t, 3, res.TotalCandidates)
	assert.Empty(t, res.Warnings)

	top := res.Matches[0]
	assert.Equal(t, "tpl-2", top.TemplateID)
	assert.Equal(t, 1, top.Rank)
	assert.InDelta(t, 1.0, top.Similarity, 1e-9)
	assert.Equal(t, retrieval.ConfidenceHigh, top.Confidence)

	// Ranks are contiguous from 1 regardless of scores.
	for i, m := range res.Matches {
		assert.Equal(t, i+1, m.Rank)
	}
}

func TestEngine_TiesBreakByTemplateID(t *testing.T) {
	s := seedStore(t,
		record("tpl-b", []float32{1, 0, 0}, 0.5),
		record("tpl-a", []float32{1, 0, 0}, 0.5),
	)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	engine := retrieval.New(s, emb, nil)

	res, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds",
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "tpl-a", res.Matches[0].TemplateID)
	assert.Equal(t, "tpl-b", res.Matches[1].TemplateID)
}

func TestEngine_TopKClamping(t *testing.T) {
	var recs []*store.EmbeddingRecord
	for i := 0; i < 12; i++ {
		recs = append(recs, record(fmt.Sprintf("tpl-%02d", i), []float32{1, 0, 0}, 0.5))
	}
	s := seedStore(t, recs...)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	engine := retrieval.New(s, emb, nil)

	tests := []struct {
		name    string
		topK    int
		want    int
		wantErr bool
	}{
		{name: "zero defaults", topK: 0, want: retrieval.DefaultTopK},
		{name: "within range", topK: 3, want: 3},
		{name: "clamped to max", topK: 50, want: retrieval.MaxTopK},
		{name: "negative rejected", topK: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Retrieve(context.Background(), retrieval.Request{
				Query: "q", Category: "billing", Subcategory: "refunds", TopK: tt.topK,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, templarerr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, res.Matches, tt.want)
			assert.Equal(t, 12, res.TotalCandidates)
		})
	}
}

func TestEngine_RejectsEmptyQueryBeforeEmbedding(t *testing.T) {
	s := seedStore(t)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{}}
	engine := retrieval.New(s, emb, nil)

	_, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "", Category: "billing", Subcategory: "refunds",
	})
	require.Error(t, err)
	assert.True(t, templarerr.IsInvalidInput(err))
	assert.Zero(t, emb.calls, "validation must fail before any provider traffic")
}

func TestEngine_EmptyCategoryWarnsWithoutError(t *testing.T) {
	s := seedStore(t)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	engine := retrieval.New(s, emb, nil)

	res, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 0, res.TotalCandidates)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no templates")
}

func TestEngine_LowConfidenceWarning(t *testing.T) {
	s := seedStore(t, record("tpl-1", []float32{1, 0, 0}, 0.5))
	// Nearly orthogonal query: similarity well under the threshold.
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {0.1, 1, 0}}}
	engine := retrieval.New(s, emb, nil)

	res, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds",
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Less(t, res.Matches[0].Similarity, retrieval.LowConfidenceThreshold)
	assert.Equal(t, retrieval.ConfidenceLow, res.Matches[0].Confidence)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "low confidence")
}

func TestEngine_WeightedScoringPrefersProvenTemplates(t *testing.T) {
	// Both candidates are equally similar; the proven one must win only
	// when weighting is on.
	s := seedStore(t,
		record("tpl-proven", []float32{1, 0, 0}, 0.9),
		record("tpl-fresh", []float32{1, 0, 0}, 0.5),
	)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	engine := retrieval.New(s, emb, nil)

	plain, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds",
	})
	require.NoError(t, err)
	assert.Equal(t, "tpl-fresh", plain.Matches[0].TemplateID, "unweighted ties break by id")

	weighted, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds", WeightBySuccessRate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "tpl-proven", weighted.Matches[0].TemplateID)
	assert.Greater(t, weighted.Matches[0].Score, weighted.Matches[1].Score)
	assert.InDelta(t, 0.7*1.0+0.3*0.9, weighted.Matches[0].Score, 1e-9)
}

func TestEngine_WeightedScoreDrivesConfidenceBucket(t *testing.T) {
	// sim 0.6 alone is "medium", but a perfect success rate lifts the
	// combined score to 0.72, which must read as "high".
	s := seedStore(t, record("tpl-1", []float32{0.6, 0.8, 0}, 1.0))
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	engine := retrieval.New(s, emb, nil)

	res, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds", WeightBySuccessRate: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)

	m := res.Matches[0]
	assert.InDelta(t, 0.6, m.Similarity, 1e-9)
	assert.InDelta(t, 0.72, m.Score, 1e-9)
	assert.Equal(t, retrieval.ConfidenceHigh, m.Confidence)
	assert.Empty(t, res.Warnings)

	// Without weighting, the same match stays medium.
	res, err = engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds",
	})
	require.NoError(t, err)
	assert.Equal(t, retrieval.ConfidenceMedium, res.Matches[0].Confidence)
}

func TestEngine_WeightedScoreDrivesLowConfidenceWarning(t *testing.T) {
	// Near-orthogonal query: similarity ~0.1 would warn on its own, but
	// the success-rate blend pushes the combined score over the
	// threshold, so no warning fires.
	s := seedStore(t, record("tpl-1", []float32{1, 0, 0}, 0.8))
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {0.1, 1, 0}}}
	engine := retrieval.New(s, emb, nil)

	res, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds", WeightBySuccessRate: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Less(t, res.Matches[0].Similarity, retrieval.LowConfidenceThreshold)
	assert.GreaterOrEqual(t, res.Matches[0].Score, retrieval.LowConfidenceThreshold)
	assert.Empty(t, res.Warnings)
}

func TestEngine_CustomWeights(t *testing.T) {
	s := seedStore(t,
		record("tpl-proven", []float32{1, 0, 0}, 0.9),
		record("tpl-fresh", []float32{1, 0, 0}, 0.5),
	)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	engine := retrieval.New(s, emb, nil, retrieval.WithWeights(0.5, 0.5))

	res, err := engine.Retrieve(context.Background(), retrieval.Request{
		Query: "q", Category: "billing", Subcategory: "refunds", WeightBySuccessRate: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "tpl-proven", res.Matches[0].TemplateID)
	assert.InDelta(t, 0.5*1.0+0.5*0.9, res.Matches[0].Score, 1e-9)
	assert.InDelta(t, 0.5*1.0+0.5*0.5, res.Matches[1].Score, 1e-9)
}

func TestEngine_ResultEchoesRequest(t *testing.T) {
	s := seedStore(t, record("tpl-1", []float32{1, 0, 0}, 0.5))
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	engine := retrieval.New(s, emb, nil)

	base := retrieval.Request{Query: "q", Category: "billing", Subcategory: "refunds"}

	res, err := engine.Retrieve(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, "q", res.Query)
	assert.Equal(t, "billing", res.Category)
	assert.Equal(t, "refunds", res.Subcategory)
	assert.Zero(t, res.ClassificationConfidence)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, "billing", res.Matches[0].Category)
	assert.Equal(t, "refunds", res.Matches[0].Subcategory)

	// Classification confidence is echoed but never affects ranking.
	tagged := base
	tagged.ClassificationConfidence = 0.42
	res2, err := engine.Retrieve(context.Background(), tagged)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, res2.ClassificationConfidence, 1e-9)
	assert.Equal(t, res.Matches[0].Score, res2.Matches[0].Score)
	assert.Equal(t, res.Matches[0].Confidence, res2.Matches[0].Confidence)
}

func TestEngine_DeterministicAcrossRuns(t *testing.T) {
	s := seedStore(t,
		record("tpl-1", []float32{0.9, 0.1, 0}, 0.5),
		record("tpl-2", []float32{0.7, 0.7, 0}, 0.5),
		record("tpl-3", []float32{0, 1, 0}, 0.5),
	)
	emb := &stubEmbedder{dim: 3, vectors: map[string][]float32{"q": {1, 0.2, 0}}}
	engine := retrieval.New(s, emb, nil)

	req := retrieval.Request{Query: "q", Category: "billing", Subcategory: "refunds"}

	first, err := engine.Retrieve(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Retrieve(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, again.Matches, len(first.Matches))
		for j := range first.Matches {
			assert.Equal(t, first.Matches[j].TemplateID, again.Matches[j].TemplateID)
			assert.Equal(t, first.Matches[j].Score, again.Matches[j].Score)
		}
	}
}
