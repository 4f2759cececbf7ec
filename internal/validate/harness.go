// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package validate measures retrieval quality against a labelled query
// set and gates deployments on top-3 accuracy.
package validate

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/templar-dev/templar/internal/retrieval"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// DefaultTop3Gate is the minimum top-3 accuracy (percent) a run must
// reach to pass, unless overridden.
const DefaultTop3Gate = 80.0

// evalTopK is how many matches each validation query retrieves.
const evalTopK = 5

// Record is one labelled validation query.
type Record struct {
	Query              string `yaml:"query" json:"query"`
	Category           string `yaml:"category" json:"category"`
	Subcategory        string `yaml:"subcategory" json:"subcategory"`
	ExpectedTemplateID string `yaml:"expected_template_id" json:"expected_template_id"`
}

// Retriever is the slice of the retrieval engine the harness needs.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Miss describes one query whose expected template missed the top 3.
type Miss struct {
	Query      string  `json:"query"`
	Expected   string  `json:"expected"`
	Got        string  `json:"got,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Summary aggregates one validation run.
type Summary struct {
	Queries        int           `json:"queries"`
	Top1Accuracy   float64       `json:"top1_accuracy"`
	Top3Accuracy   float64       `json:"top3_accuracy"`
	Top5Accuracy   float64       `json:"top5_accuracy"`
	Passed         bool          `json:"passed"`
	MeanLatency    time.Duration `json:"mean_latency"`
	P95Latency     time.Duration `json:"p95_latency"`
	MeanSimCorrect float64       `json:"mean_similarity_correct"`
	MeanSimWrong   float64       `json:"mean_similarity_wrong"`
	Misses         []Miss        `json:"misses,omitempty"`
}

// Harness runs validation sets against a retriever.
type Harness struct {
	retriever Retriever
	logger    *slog.Logger
	gate      float64
}

// Option configures a Harness.
type Option func(*Harness)

// WithGate overrides the top-3 accuracy gate (percent).
func WithGate(percent float64) Option {
	return func(h *Harness) {
		if percent > 0 {
			h.gate = percent
		}
	}
}

// New creates a validation harness.
func New(r Retriever, logger *slog.Logger, opts ...Option) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Harness{retriever: r, logger: logger, gate: DefaultTop3Gate}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Gate returns the configured top-3 accuracy gate.
func (h *Harness) Gate() float64 { return h.gate }

// LoadRecords reads a YAML validation set from path.
func LoadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeValidationSetInvalid, "reading validation set")
	}

	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeValidationSetInvalid, "parsing validation set")
	}

	for i, rec := range records {
		if rec.Query == "" || rec.Category == "" || rec.Subcategory == "" || rec.ExpectedTemplateID == "" {
			return nil, templarerr.Errorf(templarerr.CodeValidationSetInvalid,
				"record %d: query, category, subcategory, and expected_template_id are all required", i)
		}
	}
	return records, nil
}

// Run retrieves every labelled query and scores where the expected
// template landed. A query that errors fails the whole run: a broken
// pipeline must not masquerade as a bad accuracy number.
func (h *Harness) Run(ctx context.Context, records []Record) (*Summary, error) {
	if len(records) == 0 {
		return nil, templarerr.New(templarerr.CodeValidationSetInvalid, "validation set is empty")
	}

	summary := &Summary{Queries: len(records)}

	var top1, top3, top5 int
	var latencies []time.Duration
	var simCorrect, simWrong []float64

	for _, rec := range records {
		res, err := h.retriever.Retrieve(ctx, retrieval.Request{
			Query:       rec.Query,
			Category:    rec.Category,
			Subcategory: rec.Subcategory,
			TopK:        evalTopK,
		})
		if err != nil {
			return nil, templarerr.Wrap(err, templarerr.CodeValidationRunFailure, "retrieving validation query")
		}
		latencies = append(latencies, res.ProcessingTime)

		rank := 0
		for _, m := range res.Matches {
			if m.TemplateID == rec.ExpectedTemplateID {
				rank = m.Rank
				break
			}
		}

		switch {
		case rank == 1:
			top1, top3, top5 = top1+1, top3+1, top5+1
		case rank >= 2 && rank <= 3:
			top3, top5 = top3+1, top5+1
		case rank >= 4:
			top5++
		}

		if rank >= 1 && rank <= 3 {
			simCorrect = append(simCorrect, res.Matches[rank-1].Similarity)
			continue
		}

		miss := Miss{Query: rec.Query, Expected: rec.ExpectedTemplateID}
		if len(res.Matches) > 0 {
			miss.Got = res.Matches[0].TemplateID
			miss.Similarity = res.Matches[0].Similarity
			simWrong = append(simWrong, res.Matches[0].Similarity)
		}
		summary.Misses = append(summary.Misses, miss)
	}

	n := float64(len(records))
	summary.Top1Accuracy = 100 * float64(top1) / n
	summary.Top3Accuracy = 100 * float64(top3) / n
	summary.Top5Accuracy = 100 * float64(top5) / n
	summary.Passed = summary.Top3Accuracy >= h.gate
	summary.MeanLatency = meanDuration(latencies)
	summary.P95Latency = p95Duration(latencies)
	summary.MeanSimCorrect = mean(simCorrect)
	summary.MeanSimWrong = mean(simWrong)

	h.logger.Info("validation finished",
		"queries", summary.Queries,
		"top1", summary.Top1Accuracy,
		"top3", summary.Top3Accuracy,
		"top5", summary.Top5Accuracy,
		"passed", summary.Passed)
	return summary, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func p95Duration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (95*len(sorted) + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}
