// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package store

import "errors"

// Sentinel errors for store operations.
// These errors can be checked using errors.Is() for classification.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch indicates a vector whose length disagrees with
	// its version's declared dimension. Such records are never stored.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidInput indicates entity fields that fail validation.
	// Validate methods wrap it so callers can errors.Is across backends.
	ErrInvalidInput = errors.New("invalid input")
)
