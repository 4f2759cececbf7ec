// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

// Package template defines the source-of-truth template entity and its
// deterministic content fingerprint used for change detection.
package template

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// Template is one support-ticket answer template as it exists in the
// source of truth, before any embedding has been computed for it.
type Template struct {
	ID          string `yaml:"id" json:"id"`
	Category    string `yaml:"category" json:"category"`
	Subcategory string `yaml:"subcategory" json:"subcategory"`
	Question    string `yaml:"question" json:"question"`
	Answer      string `yaml:"answer" json:"answer"`
}

// Validate checks that the template has all required fields set.
func (t Template) Validate() error {
	if t.ID == "" {
		return templarerr.New(templarerr.CodeStoreInvalidInput, "template: ID is required")
	}
	if t.Category == "" {
		return templarerr.New(templarerr.CodeStoreInvalidInput, "template: Category is required", templarerr.FieldTemplateID(t.ID))
	}
	if t.Subcategory == "" {
		return templarerr.New(templarerr.CodeStoreInvalidInput, "template: Subcategory is required", templarerr.FieldTemplateID(t.ID))
	}
	if t.Question == "" {
		return templarerr.New(templarerr.CodeStoreInvalidInput, "template: Question is required", templarerr.FieldTemplateID(t.ID))
	}
	if t.Answer == "" {
		return templarerr.New(templarerr.CodeStoreInvalidInput, "template: Answer is required", templarerr.FieldTemplateID(t.ID))
	}
	return nil
}

// EmbeddingText is the text handed to the embedding provider for this
// template. Question and answer are joined so both sides of the template
// contribute to the vector.
func (t Template) EmbeddingText() string {
	return t.Question + "\n\n" + t.Answer
}

// ContentHash returns the hex-encoded fingerprint of the template's
// semantic content. Each field is length-prefixed before hashing so that
// shifting text between question and answer always changes the digest.
func (t Template) ContentHash() string {
	return ContentHash(t.Question, t.Answer)
}

// ContentHash fingerprints a question/answer pair. The digest depends only
// on the two texts, never on category or timestamps, so renaming a category
// does not trigger re-embedding.
func ContentHash(question, answer string) string {
	h := sha256.New()
	writeFramed(h, question)
	writeFramed(h, answer)
	return hex.EncodeToString(h.Sum(nil))
}

func writeFramed(h interface{ Write(p []byte) (int, error) }, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}
