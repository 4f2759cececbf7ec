// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package health

import "time"

// Snapshot exposes the current readiness state of the retrieval stack for
// monitoring and operator visibility. All fields are point-in-time values
// safe to serialize to JSON.
type Snapshot struct {
	Backend         string    `json:"backend"`
	Degraded        bool      `json:"degraded"`
	Ready           bool      `json:"ready"`
	CurrentVersion  *int64    `json:"current_version,omitempty"`
	ModelName       string    `json:"model_name,omitempty"`
	Dimension       int       `json:"dimension,omitempty"`
	Records         int64     `json:"records"`
	IntegrityOK     bool      `json:"integrity_ok"`
	IntegrityIssues []string  `json:"integrity_issues,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}
