package customerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type BusinessError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

func NewBusinessError(code int, message string) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
	}
}

var (
	ErrUnauthorized        = NewBusinessError(http.StatusUnauthorized, "unauthorized")
	ErrForbidden           = NewBusinessError(http.StatusForbidden, "forbidden")
	ErrInvalidParams       = NewBusinessError(http.StatusBadRequest, "invalid params")
	ErrJobNotFound         = NewBusinessError(http.StatusNotFound, "import job not found")
	ErrProfileNotFound     = NewBusinessError(http.StatusNotFound, "user profile not found")
	ErrJobNotProcessable   = NewBusinessError(http.StatusConflict, "import job is not in a processable state")
	ErrInternalServerError = NewBusinessError(http.StatusInternalServerError, "internal server error")
)

// Pipeline error taxonomy. The embedding client maps provider responses
// onto these sentinels; the orchestrator and retrieval engine branch on
// them with errors.Is.
var (
	// ErrEmbeddingUnavailable means retries are exhausted or the circuit
	// breaker is open. A later run may succeed.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrEmbeddingRejected is a permanent per-request failure (4xx).
	// The offending text is skipped, never retried.
	ErrEmbeddingRejected = errors.New("embedding request rejected")

	// ErrQuotaExhausted means the provider reported quota or budget
	// exhaustion. The orchestrator pauses instead of busy-retrying.
	ErrQuotaExhausted = errors.New("embedding quota exhausted")

	// ErrQuickPassTimeout means the quick pass exceeded its wall-clock
	// budget. The job fails with a user-visible retry prompt.
	ErrQuickPassTimeout = errors.New("quick pass exceeded time budget")

	// ErrTenantRequired flags a memory store call without a user scope.
	// This is a programming error, never a recoverable condition.
	ErrTenantRequired = errors.New("userId is required for memory access")
)

func GetBusinessError(err error) *BusinessError {
	if err == nil {
		return nil
	}
	var businessErr *BusinessError
	if errors.As(err, &businessErr) {
		return businessErr
	}
	return nil
}
