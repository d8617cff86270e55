package models

import "errors"

// Error taxonomy for the gateway. Callers distinguish "slow down" from
// "fix payload" from "fix data-handling declaration" from "try later" by
// matching these sentinels (errors.Is) or the stable codes on the wire.
var (
	// ErrRateLimitExceeded is retryable after the advertised retry_after.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrValidationFailed is not retryable without changing the payload.
	ErrValidationFailed = errors.New("validation failed")

	// ErrComplianceViolation is not retryable without changing the envelope.
	ErrComplianceViolation = errors.New("compliance violation")

	// ErrWriteError is a collaborator failure, terminal for this call.
	// Any retry policy belongs to the collaborator.
	ErrWriteError = errors.New("storage write error")

	// ErrConfiguration indicates a malformed rule or pattern table at
	// startup. Fatal: the process must not start.
	ErrConfiguration = errors.New("configuration error")
)

// Stable wire codes for the error taxonomy.
const (
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeComplianceViolation = "COMPLIANCE_VIOLATION"
	CodeWriteError          = "WRITE_ERROR"
	CodeConfigurationError  = "CONFIGURATION_ERROR"
)
