// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreRecordNotFound     Code = "store.record.get.not_found"
	CodeStoreVersionNotFound    Code = "store.version.get.not_found"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeStoreDimensionMismatch  Code = "store.record.dimension.invalid_input"
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreUnavailable        Code = "store.backend.unavailable"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreIntegrityViolation Code = "store.integrity.violation"
	CodeStorePromoteViolation   Code = "store.version.promote.violation"

	CodeProviderRequestInvalid Code = "provider.embed.invalid_input"
	CodeProviderTimeout        Code = "provider.embed.timeout"
	CodeProviderUpstream       Code = "provider.embed.upstream_failure"
	CodeProviderExhausted      Code = "provider.retry.unavailable"

	CodeRetrievalRequestInvalid Code = "retrieval.request.invalid_input"
	CodeRetrievalEmbedFailure   Code = "retrieval.query.embed.failure"
	CodeRetrievalStoreFailure   Code = "retrieval.candidates.failure"

	CodeMigrationRunFailure       Code = "migration.run.failure"
	CodeMigrationPromoteViolation Code = "migration.promote.violation"

	CodeValidationSetInvalid Code = "validation.set.invalid_input"
	CodeValidationRunFailure Code = "validation.run.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCLIInputInvalid    Code = "cli.input.invalid_input"
	CodeCLIInternalFailure Code = "cli.internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldTemplateID(value string) Attr {
	return Field("template_id", value)
}

func FieldVersionID(value int64) Attr {
	return Field("version_id", value)
}

func FieldCategory(category, subcategory string) Attr {
	return Field("category", category+"/"+subcategory)
}

func FieldBackend(value string) Attr {
	return Field("backend", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeCLIInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsUnavailable reports whether the error marks a temporarily unreachable
// collaborator (storage backend down, provider retries exhausted).
func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

// IsIntegrity reports whether the error marks an integrity violation.
// These block readiness and are never retried.
func IsIntegrity(err error) bool {
	return reason(CodeOf(err)) == "violation"
}

func IsUpstreamFailure(err error) bool {
	return reason(CodeOf(err)) == "upstream_failure"
}

// IsRetryable classifies an error for the bounded retry loop: upstream,
// timeout, and unclassified failures are worth retrying; bad input,
// missing entities, and integrity violations never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsInvalidInput(err) || IsIntegrity(err) || IsNotFound(err) {
		return false
	}
	return true
}

func Join(errs ...error) error {
	return oops.Code(CodeCLIInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
