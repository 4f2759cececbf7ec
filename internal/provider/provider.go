// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package provider defines the embedding provider contract. Concrete
// adapters live in subpackages; callers depend only on Embedder.
package provider

import "context"

// Embedder produces fixed-dimension vectors for text. Implementations
// must be safe for concurrent use.
type Embedder interface {
	// Embed returns the vector for text. The slice length always equals
	// Dimension() on success.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the vector length this embedder produces.
	Dimension() int

	// Model identifies the upstream model. The pair keys embedding
	// versions, so it must be stable for a given deployment.
	Model() (name, version string)

	Close() error
}
