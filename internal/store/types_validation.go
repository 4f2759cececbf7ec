// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package store

import (
	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// Validate checks that the version has all required fields set correctly.
func (v EmbeddingVersion) Validate() error {
	if v.ModelName == "" {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "version: ModelName is required")
	}
	if v.ModelVersion == "" {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "version: ModelVersion is required")
	}
	if v.Dimension <= 0 {
		return templarerr.Wrapf(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "version: Dimension must be > 0, got %d", v.Dimension)
	}
	return nil
}

// Validate checks record fields that do not require a version lookup.
// Dimension agreement with the owning version is enforced by the backends
// at write time, where the version row is at hand.
func (r EmbeddingRecord) Validate() error {
	if r.TemplateID == "" {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: TemplateID is required")
	}
	if r.VersionID <= 0 {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: VersionID is required", templarerr.FieldTemplateID(r.TemplateID))
	}
	if len(r.Vector) == 0 {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: Vector is required", templarerr.FieldTemplateID(r.TemplateID))
	}
	if r.Category == "" || r.Subcategory == "" {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: Category and Subcategory are required", templarerr.FieldTemplateID(r.TemplateID))
	}
	if r.Question == "" || r.Answer == "" {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: Question and Answer are required", templarerr.FieldTemplateID(r.TemplateID))
	}
	if r.ContentHash == "" {
		return templarerr.Wrap(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: ContentHash is required", templarerr.FieldTemplateID(r.TemplateID))
	}
	if r.SuccessRate < 0 || r.SuccessRate > 1 {
		return templarerr.Wrapf(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: SuccessRate must be in [0,1], got %g", r.SuccessRate)
	}
	if r.UsageCount < 0 {
		return templarerr.Wrapf(ErrInvalidInput, templarerr.CodeStoreInvalidInput, "record: UsageCount must be >= 0, got %d", r.UsageCount)
	}
	return nil
}
