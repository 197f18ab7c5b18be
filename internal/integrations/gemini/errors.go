package gemini

import "fmt"

// ErrorCode is the closed provider error taxonomy surfaced to callers. Each
// code maps to a distinct user-actionable remediation message upstream.
type ErrorCode string

const (
	CodeNoCredential      ErrorCode = "NO_CREDENTIAL"
	CodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"
	CodeNoModelsAvailable ErrorCode = "NO_MODELS_AVAILABLE"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	CodeContentBlocked    ErrorCode = "CONTENT_BLOCKED"
	CodeTransientFailure  ErrorCode = "TRANSIENT_FAILURE"
)

// ProviderError is a categorized provider failure. CONTENT_BLOCKED is never
// retried; only availability-class failures participate in model fallback.
type ProviderError struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("gemini: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("gemini: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newProviderError(code ErrorCode, reason string, err error) *ProviderError {
	return &ProviderError{Code: code, Reason: reason, Err: err}
}

// NoTextError carries the diagnostic fields explaining why a 200 response
// contained no usable text, instead of guessing at content.
type NoTextError struct {
	FinishReason  string
	BlockReason   string
	SafetyRatings []SafetyRating
}

func (e *NoTextError) Error() string {
	return fmt.Sprintf("gemini: no text produced (finishReason=%q blockReason=%q)", e.FinishReason, e.BlockReason)
}

// modelNotFoundError marks an availability failure for one candidate model.
// It stays internal to the fallback loop and is never surfaced directly.
type modelNotFoundError struct {
	model string
}

func (e *modelNotFoundError) Error() string {
	return fmt.Sprintf("gemini: model %q not found", e.model)
}
