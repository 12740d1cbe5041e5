package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	// Fatal: the run stops before producing a ScrapeResult.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeInference     = "INFERENCE_FAILED"

	// LLM-related codes. Both are fatal inference failures.
	ErrCodeLLMAuthFailure = "LLM_AUTH_FAILURE"
	ErrCodeLLMRateLimited = "LLM_RATE_LIMITED"

	// Per-page: recorded in run stats, the page is skipped.
	ErrCodeFetch        = "FETCH_FAILED"
	ErrCodeExtraction   = "EXTRACTION_FAILED"
	ErrCodeTimeout      = "SCRAPE_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"

	// API surface.
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ConfigError is shorthand for a CONFIGURATION_ERROR with a formatted message.
func ConfigError(format string, args ...any) *ScrapeError {
	return NewScrapeError(ErrCodeConfiguration, fmt.Sprintf(format, args...), nil)
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the first ScrapeError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsPageFailure reports whether err is confined to one page. After the
// first page a run counts these and carries on; any other error ends it.
func IsPageFailure(err error) bool {
	switch CodeOf(err) {
	case ErrCodeFetch, ErrCodeExtraction, ErrCodeTimeout, ErrCodeNavigation, ErrCodeBrowserCrash:
		return true
	}
	return false
}

// IsInferenceFailure reports whether err came from the selector inference stage.
func IsInferenceFailure(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInference, ErrCodeLLMAuthFailure, ErrCodeLLMRateLimited:
		return true
	}
	return false
}
