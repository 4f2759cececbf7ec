// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package validate_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/templar-dev/templar/internal/retrieval"
	"github.com/templar-dev/templar/internal/validate"
	templarerr "github.com/templar-dev/templar/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRetriever returns a fixed ranked list per query.
type scriptedRetriever struct {
	results map[string][]string // query -> ranked template ids
	err     error
}

func (s *scriptedRetriever) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Result, error) {
	if s.err != nil {
		return nil, s.err
	}

	ids := s.results[req.Query]
	res := &retrieval.Result{TotalCandidates: len(ids), ProcessingTime: time.Millisecond}
	for i, id := range ids {
		res.Matches = append(res.Matches, retrieval.Match{
			TemplateID: id,
			Rank:       i + 1,
			Similarity: 0.9 - 0.1*float64(i),
		})
	}
	return res, nil
}

func records(n int) []validate.Record {
	out := make([]validate.Record, n)
	for i := range out {
		out[i] = validate.Record{
			Query:              fmt.Sprintf("query %d", i),
			Category:           "billing",
			Subcategory:        "refunds",
			ExpectedTemplateID: fmt.Sprintf("tpl-%d", i),
		}
	}
	return out
}

func TestHarness_PassesAtNinetyPercentTop3(t *testing.T) {
	recs := records(10)
	scripted := &scriptedRetriever{results: make(map[string][]string)}
	for i, rec := range recs {
		if i == 0 {
			// One miss: expected template absent from the list entirely.
			scripted.results[rec.Query] = []string{"tpl-x", "tpl-y", "tpl-z"}
			continue
		}
		// Expected lands at rank 2.
		scripted.results[rec.Query] = []string{"tpl-other", rec.ExpectedTemplateID, "tpl-z"}
	}

	summary, err := validate.New(scripted, nil).Run(context.Background(), recs)
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Queries)
	assert.InDelta(t, 0.0, summary.Top1Accuracy, 1e-9)
	assert.InDelta(t, 90.0, summary.Top3Accuracy, 1e-9)
	assert.True(t, summary.Passed)
	require.Len(t, summary.Misses, 1)
	assert.Equal(t, "tpl-0", summary.Misses[0].Expected)
	assert.Equal(t, "tpl-x", summary.Misses[0].Got)
	assert.Positive(t, summary.MeanLatency)
}

func TestHarness_GateOverride(t *testing.T) {
	recs := records(2)
	scripted := &scriptedRetriever{results: map[string][]string{
		recs[0].Query: {recs[0].ExpectedTemplateID},
		recs[1].Query: {"tpl-wrong"},
	}}

	summary, err := validate.New(scripted, nil, validate.WithGate(50)).Run(context.Background(), recs)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, summary.Top3Accuracy, 1e-9)
	assert.True(t, summary.Passed, "a 50%% gate accepts 50%% accuracy")
}

func TestHarness_FailsBelowGate(t *testing.T) {
	recs := records(10)
	scripted := &scriptedRetriever{results: make(map[string][]string)}
	for i, rec := range recs {
		if i < 7 {
			scripted.results[rec.Query] = []string{rec.ExpectedTemplateID}
			continue
		}
		// Expected at rank 4: counts for top-5 only.
		scripted.results[rec.Query] = []string{"a", "b", "c", rec.ExpectedTemplateID, "d"}
	}

	summary, err := validate.New(scripted, nil).Run(context.Background(), recs)
	require.NoError(t, err)

	assert.InDelta(t, 70.0, summary.Top1Accuracy, 1e-9)
	assert.InDelta(t, 70.0, summary.Top3Accuracy, 1e-9)
	assert.InDelta(t, 100.0, summary.Top5Accuracy, 1e-9)
	assert.False(t, summary.Passed)
	assert.Len(t, summary.Misses, 3)
}

func TestHarness_SimilaritySplitByCorrectness(t *testing.T) {
	recs := records(2)
	scripted := &scriptedRetriever{results: map[string][]string{
		recs[0].Query: {recs[0].ExpectedTemplateID}, // correct at rank 1, sim 0.9
		recs[1].Query: {"tpl-wrong"},                // miss, top sim 0.9
	}}

	summary, err := validate.New(scripted, nil).Run(context.Background(), recs)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, summary.MeanSimCorrect, 1e-9)
	assert.InDelta(t, 0.9, summary.MeanSimWrong, 1e-9)
}

func TestHarness_RetrievalErrorFailsRun(t *testing.T) {
	scripted := &scriptedRetriever{err: templarerr.New(templarerr.CodeRetrievalStoreFailure, "backend gone")}

	_, err := validate.New(scripted, nil).Run(context.Background(), records(1))
	require.Error(t, err)
	assert.Equal(t, templarerr.CodeValidationRunFailure, templarerr.CodeOf(err))
}

func TestHarness_EmptySetRejected(t *testing.T) {
	_, err := validate.New(&scriptedRetriever{}, nil).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, templarerr.IsInvalidInput(err))
}

func TestLoadRecords(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "set.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
- query: "how do I get a refund"
  category: billing
  subcategory: refunds
  expected_template_id: tpl-1
- query: "reset my password"
  category: access
  subcategory: password
  expected_template_id: tpl-2
`), 0o644))

	recs, err := validate.LoadRecords(good)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "tpl-1", recs[0].ExpectedTemplateID)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
- query: "missing label"
  category: billing
  subcategory: refunds
`), 0o644))

	_, err = validate.LoadRecords(bad)
	require.Error(t, err)
	assert.Equal(t, templarerr.CodeValidationSetInvalid, templarerr.CodeOf(err))

	_, err = validate.LoadRecords(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}
