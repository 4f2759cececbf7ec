// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package retrieval ranks stored templates against a query by cosine
// similarity over the current embedding version.
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/templar-dev/templar/internal/provider"
	"github.com/templar-dev/templar/internal/store"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

const (
	// DefaultTopK is used when the request leaves TopK at zero.
	DefaultTopK = 5
	// MaxTopK caps how many matches a single request may ask for.
	MaxTopK = 10

	// LowConfidenceThreshold marks results whose best score suggests no
	// stored template really answers the query.
	LowConfidenceThreshold = 0.3

	highConfidenceFloor   = 0.7
	mediumConfidenceFloor = 0.5

	// Default blend of similarity and observed success rate when
	// weighted scoring is on.
	DefaultSimilarityWeight  = 0.7
	DefaultSuccessRateWeight = 0.3
)

// Confidence buckets a match's score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Request describes one retrieval call.
type Request struct {
	Query       string `json:"query"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`

	// TopK is clamped to [1, MaxTopK]; zero means DefaultTopK, negative
	// values are rejected.
	TopK int `json:"top_k"`

	// WeightBySuccessRate blends each template's success rate into the
	// ranking score instead of ranking on similarity alone.
	WeightBySuccessRate bool `json:"weight_by_success_rate"`

	// ClassificationConfidence is the upstream classifier's confidence
	// in the category assignment. Informational only: it is echoed and
	// logged, never consulted for ranking.
	ClassificationConfidence float64 `json:"classification_confidence,omitempty"`
}

// Match is one ranked template.
type Match struct {
	TemplateID  string     `json:"template_id"`
	Category    string     `json:"category"`
	Subcategory string     `json:"subcategory"`
	Question    string     `json:"question"`
	Answer      string     `json:"answer"`
	Similarity  float64    `json:"similarity"`
	Score       float64    `json:"score"`
	Rank        int        `json:"rank"`
	Confidence  Confidence `json:"confidence"`
	SuccessRate float64    `json:"success_rate"`
	UsageCount  int64      `json:"usage_count"`
}

// Result is the ranked answer set for one request. It echoes the
// request's query and category so a caller holding only the result can
// still tell what was asked.
type Result struct {
	Query                    string        `json:"query"`
	Category                 string        `json:"category"`
	Subcategory              string        `json:"subcategory"`
	ClassificationConfidence float64       `json:"classification_confidence,omitempty"`
	Matches                  []Match       `json:"matches"`
	TotalCandidates          int           `json:"total_candidates"`
	Warnings                 []string      `json:"warnings,omitempty"`
	ProcessingTime           time.Duration `json:"processing_time"`
}

// Engine wires an embedder and a store into the retrieval flow.
type Engine struct {
	store         store.Store
	embedder      provider.Embedder
	logger        *slog.Logger
	simWeight     float64
	successWeight float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights overrides the similarity/success-rate blend used when a
// request asks for weighted scoring. The pair should sum to 1.
func WithWeights(similarity, successRate float64) Option {
	return func(e *Engine) {
		if similarity > 0 && successRate >= 0 {
			e.simWeight = similarity
			e.successWeight = successRate
		}
	}
}

// New creates a retrieval engine.
func New(s store.Store, e provider.Embedder, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &Engine{
		store:         s,
		embedder:      e,
		logger:        logger,
		simWeight:     DefaultSimilarityWeight,
		successWeight: DefaultSuccessRateWeight,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Retrieve embeds the query, scores every stored template in the
// requested category under the current version, and returns the top
// matches. Validation failures surface before any embedding or store
// traffic happens.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	topK, err := normalizeRequest(&req)
	if err != nil {
		return nil, err
	}

	queryVec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeRetrievalEmbedFailure, "embedding query")
	}

	candidates, err := e.store.GetByCategory(ctx, req.Category, req.Subcategory)
	if err != nil {
		return nil, templarerr.Wrap(err, templarerr.CodeRetrievalStoreFailure, "loading candidates",
			templarerr.FieldCategory(req.Category, req.Subcategory))
	}

	result := &Result{
		Query:                    req.Query,
		Category:                 req.Category,
		Subcategory:              req.Subcategory,
		ClassificationConfidence: req.ClassificationConfidence,
		TotalCandidates:          len(candidates),
	}
	if len(candidates) == 0 {
		result.Warnings = append(result.Warnings, "no templates stored for this category")
		result.ProcessingTime = time.Since(start)
		return result, nil
	}

	matches := e.scoreCandidates(queryVec, candidates, req.WeightBySuccessRate)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	result.Matches = matches

	if best := matches[0].Score; best < LowConfidenceThreshold {
		result.Warnings = append(result.Warnings, "low confidence: best score below threshold")
		e.logger.Warn("low-confidence retrieval",
			"category", req.Category,
			"subcategory", req.Subcategory,
			"classification_confidence", req.ClassificationConfidence,
			"best_score", best)
	}

	result.ProcessingTime = time.Since(start)
	return result, nil
}

func normalizeRequest(req *Request) (int, error) {
	if req.Query == "" {
		return 0, templarerr.New(templarerr.CodeRetrievalRequestInvalid, "query must not be empty")
	}
	if req.Category == "" || req.Subcategory == "" {
		return 0, templarerr.New(templarerr.CodeRetrievalRequestInvalid, "category and subcategory are required",
			templarerr.FieldCategory(req.Category, req.Subcategory))
	}
	switch {
	case req.TopK < 0:
		return 0, templarerr.Errorf(templarerr.CodeRetrievalRequestInvalid, "top_k must not be negative, got %d", req.TopK)
	case req.TopK == 0:
		return DefaultTopK, nil
	case req.TopK > MaxTopK:
		return MaxTopK, nil
	default:
		return req.TopK, nil
	}
}

// scoreCandidates computes the score for every candidate and returns
// them sorted by score descending, template id ascending on ties. The
// confidence bucket follows the score, so weighted scoring moves
// matches between buckets along with their rank.
func (e *Engine) scoreCandidates(query []float32, candidates []*store.EmbeddingRecord, weighted bool) []Match {
	queryNorm := norm(query)

	matches := make([]Match, 0, len(candidates))
	for _, rec := range candidates {
		sim := cosine(query, queryNorm, rec.Vector)

		score := sim
		if weighted {
			score = e.simWeight*sim + e.successWeight*rec.SuccessRate
		}

		matches = append(matches, Match{
			TemplateID:  rec.TemplateID,
			Category:    rec.Category,
			Subcategory: rec.Subcategory,
			Question:    rec.Question,
			Answer:      rec.Answer,
			Similarity:  sim,
			Score:       score,
			Confidence:  bucket(score),
			SuccessRate: rec.SuccessRate,
			UsageCount:  rec.UsageCount,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].TemplateID < matches[j].TemplateID
	})
	return matches
}

func bucket(score float64) Confidence {
	switch {
	case score >= highConfidenceFloor:
		return ConfidenceHigh
	case score >= mediumConfidenceFloor:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// cosine returns the cosine similarity clamped to [0, 1]. Mismatched or
// zero-magnitude vectors score zero rather than erroring: a corrupt
// candidate should lose the ranking, not kill the request.
func cosine(query []float32, queryNorm float64, candidate []float32) float64 {
	if len(query) != len(candidate) || queryNorm == 0 {
		return 0
	}
	candNorm := norm(candidate)
	if candNorm == 0 {
		return 0
	}

	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
	}

	sim := dot / (queryNorm * candNorm)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
