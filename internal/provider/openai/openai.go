// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package openai adapts the OpenAI embeddings API to provider.Embedder.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/templar-dev/templar/internal/provider"
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// Compile-time interface check.
var _ provider.Embedder = (*Embedder)(nil)

// Config holds OpenAI embedder configuration.
type Config struct {
	APIKey     string
	BaseURL    string // optional, useful for testing against a mock server
	Model      string
	Dimensions int
	Timeout    time.Duration
	Retry      provider.RetryConfig
}

// Embedder implements provider.Embedder using the OpenAI embeddings API.
type Embedder struct {
	client openaisdk.Client
	config Config
}

// New creates a new OpenAI embedder. Returns an error if the API key,
// model, or dimension is missing.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, templarerr.New(templarerr.CodeProviderRequestInvalid, "openai: missing api_key in config")
	}
	if cfg.Model == "" {
		return nil, templarerr.New(templarerr.CodeProviderRequestInvalid, "openai: missing model in config")
	}
	if cfg.Dimensions <= 0 {
		return nil, templarerr.New(templarerr.CodeProviderRequestInvalid, "openai: dimensions must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = provider.DefaultRetryConfig()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openaisdk.NewClient(opts...)
	return &Embedder{client: client, config: cfg}, nil
}

func (e *Embedder) Dimension() int { return e.config.Dimensions }

// Model keys embedding versions: the requested dimension is part of the
// version identity, so two deployments of the same model at different
// dimensions never share records.
func (e *Embedder) Model() (string, string) {
	return e.config.Model, "dim-" + strconv.Itoa(e.config.Dimensions)
}

func (e *Embedder) Close() error { return nil }

// Embed requests a single embedding, retrying transient upstream
// failures per the configured retry budget.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, templarerr.New(templarerr.CodeProviderRequestInvalid, "openai: empty input text")
	}

	return provider.Retry(ctx, e.config.Retry, func(ctx context.Context) ([]float32, error) {
		return e.embedOnce(ctx, text)
	})
}

func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input:          openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model:          openaisdk.EmbeddingModel(e.config.Model),
		Dimensions:     param.NewOpt(int64(e.config.Dimensions)),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Data) == 0 {
		return nil, templarerr.New(templarerr.CodeProviderUpstream, "openai: response carried no embeddings")
	}

	raw := resp.Data[0].Embedding
	if len(raw) != e.config.Dimensions {
		return nil, templarerr.Errorf(templarerr.CodeProviderUpstream,
			"openai: got %d dimensions, want %d", len(raw), e.config.Dimensions)
	}

	out := make([]float32, len(raw))
	for i, f := range raw {
		out[i] = float32(f)
	}
	return out, nil
}

// classify maps SDK failures onto machine codes so the retry loop can
// tell permanent rejections from transient outages.
func classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusBadRequest,
			apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusNotFound:
			return templarerr.Wrap(err, templarerr.CodeProviderRequestInvalid, "openai: request rejected")
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return templarerr.Wrap(err, templarerr.CodeProviderTimeout, "openai: request timed out")
		default:
			return templarerr.Wrap(err, templarerr.CodeProviderUpstream, "openai: upstream failure")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return templarerr.Wrap(err, templarerr.CodeProviderTimeout, "openai: request timed out")
	}
	return templarerr.Wrap(err, templarerr.CodeProviderUpstream, "openai: request failed")
}
