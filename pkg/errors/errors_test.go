// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package errors_test

import (
	stderrors "errors"
	"testing"

	templarerr "github.com/templar-dev/templar/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := templarerr.New(templarerr.CodeStoreRecordNotFound, "record missing")
	assert.Equal(t, templarerr.CodeStoreRecordNotFound, templarerr.CodeOf(err))

	assert.Equal(t, templarerr.Code(""), templarerr.CodeOf(nil))
	assert.Equal(t, templarerr.Code(""), templarerr.CodeOf(stderrors.New("plain")))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, templarerr.Wrap(nil, templarerr.CodeStoreDatabaseFailure, "ignored"))
	assert.NoError(t, templarerr.Wrapf(nil, templarerr.CodeStoreDatabaseFailure, "ignored"))
	assert.NoError(t, templarerr.With(nil))
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name  string
		code  templarerr.Code
		check func(error) bool
	}{
		{"not found", templarerr.CodeStoreRecordNotFound, templarerr.IsNotFound},
		{"invalid input", templarerr.CodeRetrievalRequestInvalid, templarerr.IsInvalidInput},
		{"dimension mismatch is invalid input", templarerr.CodeStoreDimensionMismatch, templarerr.IsInvalidInput},
		{"timeout", templarerr.CodeProviderTimeout, templarerr.IsTimeout},
		{"unavailable", templarerr.CodeStoreUnavailable, templarerr.IsUnavailable},
		{"retries exhausted are unavailable", templarerr.CodeProviderExhausted, templarerr.IsUnavailable},
		{"integrity", templarerr.CodeStoreIntegrityViolation, templarerr.IsIntegrity},
		{"promote violation is integrity", templarerr.CodeMigrationPromoteViolation, templarerr.IsIntegrity},
		{"upstream", templarerr.CodeProviderUpstream, templarerr.IsUpstreamFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := templarerr.New(tt.code, "boom")
			assert.True(t, tt.check(err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, templarerr.IsRetryable(nil))
	assert.False(t, templarerr.IsRetryable(templarerr.New(templarerr.CodeProviderRequestInvalid, "empty text")))
	assert.False(t, templarerr.IsRetryable(templarerr.New(templarerr.CodeStoreIntegrityViolation, "two current versions")))
	assert.False(t, templarerr.IsRetryable(templarerr.New(templarerr.CodeStoreRecordNotFound, "gone")))

	assert.True(t, templarerr.IsRetryable(templarerr.New(templarerr.CodeProviderTimeout, "deadline")))
	assert.True(t, templarerr.IsRetryable(templarerr.New(templarerr.CodeProviderUpstream, "503")))
	assert.True(t, templarerr.IsRetryable(stderrors.New("unclassified network blip")))
}

func TestFields(t *testing.T) {
	err := templarerr.New(templarerr.CodeStoreDimensionMismatch, "vector length 3, want 1536",
		templarerr.FieldTemplateID("tpl-1"),
		templarerr.FieldVersionID(7),
	)

	fields := templarerr.FieldsOf(err)
	require.NotNil(t, fields)
	assert.Equal(t, "tpl-1", fields["template_id"])
	assert.Equal(t, int64(7), fields["version_id"])
}

func TestWithPreservesCode(t *testing.T) {
	err := templarerr.New(templarerr.CodeProviderTimeout, "deadline")
	wrapped := templarerr.With(err, templarerr.FieldTemplateID("tpl-2"))

	assert.Equal(t, templarerr.CodeProviderTimeout, templarerr.CodeOf(wrapped))
	assert.Equal(t, "tpl-2", templarerr.FieldsOf(wrapped)["template_id"])
}
