package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the recognition service
 *
 * Every rejection the orchestration core can produce carries a stable
 * machine-readable code plus a human-readable message, so callers and
 * operators can act on failures without parsing error strings.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Engine errors
	ErrorEngineNotRegistered ErrorCode = "ENGINE_NOT_REGISTERED"
	ErrorEngineInitFailed    ErrorCode = "ENGINE_INIT_FAILED"
	ErrorVisionRequired      ErrorCode = "VISION_REQUIRED"
	ErrorNoSuitableEngine    ErrorCode = "NO_SUITABLE_ENGINE"
	ErrorAllEnginesFailed    ErrorCode = "ALL_ENGINES_FAILED"

	// Admission errors
	ErrorAdmissionRejected ErrorCode = "ADMISSION_REJECTED"
	ErrorAdmissionTimeout  ErrorCode = "ADMISSION_TIMEOUT"
	ErrorRateLimited       ErrorCode = "RATE_LIMITED"

	// Cache errors (absorbed internally, never surfaced to callers)
	ErrorCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
)

// RecognitionError represents a structured service error
type RecognitionError struct {
	Code       ErrorCode
	Message    string
	Timestamp  time.Time
	RetryAfter time.Duration
	Details    map[string]interface{}
	Cause      error
}

func (e *RecognitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RecognitionError) Unwrap() error {
	return e.Cause
}

// EngineAttempt records one failed engine invocation during fallback
type EngineAttempt struct {
	Engine string
	Err    string
}

// Factory functions for common errors

func NewEngineNotRegistered(name string) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorEngineNotRegistered,
		Message:   fmt.Sprintf("engine %q is not registered", name),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": name,
		},
	}
}

func NewEngineInitFailed(name string, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorEngineInitFailed,
		Message:   fmt.Sprintf("engine %q failed to initialize", name),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": name,
		},
		Cause: cause,
	}
}

func NewVisionRequired(useCase string) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorVisionRequired,
		Message:   fmt.Sprintf("use case %q requires a vision-capable engine but none is registered", useCase),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"use_case": useCase,
		},
	}
}

func NewNoSuitableEngine(language string, available []string) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorNoSuitableEngine,
		Message:   fmt.Sprintf("no available engine supports language %q", language),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"language":          language,
			"available_engines": available,
		},
	}
}

func NewAllEnginesFailed(attempts []EngineAttempt) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorAllEnginesFailed,
		Message:   fmt.Sprintf("all %d candidate engines failed", len(attempts)),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
	}
}

func NewAdmissionRejected(reason string) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorAdmissionRejected,
		Message:   fmt.Sprintf("request rejected by admission control: %s", reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

func NewAdmissionTimeout(timeout time.Duration) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorAdmissionTimeout,
		Message:   fmt.Sprintf("timed out after %v waiting for a processing slot", timeout),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout": timeout.String(),
		},
	}
}

func NewRateLimited(retryAfter time.Duration) *RecognitionError {
	return &RecognitionError{
		Code:       ErrorRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %.0fs", retryAfter.Seconds()),
		Timestamp:  time.Now(),
		RetryAfter: retryAfter,
		Details: map[string]interface{}{
			"retry_after_seconds": retryAfter.Seconds(),
		},
	}
}

func NewCacheUnavailable(cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorCacheUnavailable,
		Message:   "cache store unavailable",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// CodeOf extracts the error code from err, or "" if err is not a RecognitionError
func CodeOf(err error) ErrorCode {
	var re *RecognitionError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Attempts returns the per-engine failure list carried by an
// ALL_ENGINES_FAILED error, or nil for any other error.
func Attempts(err error) []EngineAttempt {
	var re *RecognitionError
	if !stderrors.As(err, &re) || re.Code != ErrorAllEnginesFailed {
		return nil
	}
	attempts, _ := re.Details["attempts"].([]EngineAttempt)
	return attempts
}

// ToMap converts error to map for job status reporting
func (e *RecognitionError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
