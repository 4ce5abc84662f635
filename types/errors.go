package types

import (
	"errors"
	"net/http"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrExtraction        = errors.New("text extraction failed")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrCorruptFile       = errors.New("corrupt or unreadable file")
	ErrRetrievalDegraded = errors.New("retrieval degraded")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrIndexUnavailable  = errors.New("vector index unavailable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrModel             = errors.New("model error")
	ErrRateLimited       = errors.New("model rate limited")
	ErrSchemaValidation  = errors.New("model response failed schema validation")
	ErrPersistence       = errors.New("persistence error")
	ErrNotFound          = errors.New("not found")
)

// ValidationError carries per-field messages for user-correctable input problems.
type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: http.StatusUnprocessableEntity,
		Errors: errors,
	}
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func (e ValidationError) Unwrap() error {
	return ErrValidation
}
