package model

import "time"

// Codes attached to validation findings. Errors block scoring for the
// cycle; warnings only annotate the result.
const (
	CodeTimestampDrift    = "TIMESTAMP_DRIFT"
	CodeStaleData         = "STALE_DATA"
	CodeLowCorrelation    = "LOW_ACTIVITY_CORRELATION"
	CodeUserDiscrepancy   = "USER_COUNT_DISCREPANCY"
	CodeMalformedSnapshot = "MALFORMED_SNAPSHOT"
	CodeProjectMismatch   = "PROJECT_MISMATCH"
)

// ValidationError is a blocking finding; scoring must not proceed.
type ValidationError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ValidationWarning is a non-blocking finding kept for audit.
type ValidationWarning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ValidationMetadata tags where a result came from.
type ValidationMetadata struct {
	Source string `json:"source"`
	Type   string `json:"type"`
}

// ValidationResult captures the outcome of cross-source validation.
// IsValid is true exactly when Errors is empty.
type ValidationResult struct {
	IsValid     bool                `json:"is_valid"`
	Errors      []ValidationError   `json:"errors"`
	Warnings    []ValidationWarning `json:"warnings"`
	EvaluatedAt time.Time           `json:"evaluated_at"`
	Metadata    ValidationMetadata  `json:"metadata"`
}

// CycleJob is a request to score one project for one period. Jobs flow
// through the queue to the worker pool.
type CycleJob struct {
	JobID       string    // unique id for idempotency, e.g. "proj@2026-08"
	Project     string    // project identifier on both sources
	RequestedAt time.Time // when the cycle was requested
}
