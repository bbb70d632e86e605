package service

import "errors"

var (
	// ErrNoGitHubSource is returned when the service is started without a
	// developer-activity collector.
	ErrNoGitHubSource = errors.New("no github source configured")

	// ErrValidationFailed is returned when cross-validation rejects the
	// collected metrics for a cycle.
	ErrValidationFailed = errors.New("metrics validation failed")
)
