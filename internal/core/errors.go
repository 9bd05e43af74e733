package core

import (
	"errors"
	"fmt"
)

const (
	CodeExtractionFailed         = "EXTRACTION_FAILED"
	CodeSessionNotReady          = "SESSION_NOT_READY"
	CodeSessionNotFound          = "SESSION_NOT_FOUND"
	CodeChunkBatchFailure        = "CHUNK_BATCH_FAILURE"
	CodeConversionTimeout        = "CONVERSION_TIMEOUT"
	CodeAnswerFieldCountMismatch = "ANSWER_FIELD_COUNT_MISMATCH"
	CodeInvalidInput             = "INVALID_INPUT"
	CodeSynthesisFailed          = "SYNTHESIS_FAILED"
	CodeArchiveUnavailable       = "ARCHIVE_UNAVAILABLE"
)

var (
	ErrExtractionFailed         = errors.New("text extraction failed")
	ErrSessionNotReady          = errors.New("session not ready")
	ErrSessionNotFound          = errors.New("session not found")
	ErrChunkBatchFailure        = errors.New("chunk batch failed")
	ErrConversionTimeout        = errors.New("page conversion timed out")
	ErrAnswerFieldCountMismatch = errors.New("answer field count mismatch")
	ErrInvalidInput             = errors.New("invalid input")
	ErrSynthesisFailed          = errors.New("answer synthesis failed")
	ErrArchiveUnavailable       = errors.New("upload archive unavailable")
)

// AppError carries a stable code for the API boundary plus the underlying cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func SessionNotFound(id string) error {
	return NewAppError(CodeSessionNotFound, fmt.Sprintf("session %s does not exist", id), ErrSessionNotFound)
}

func SessionNotReady(id string, status string) error {
	return NewAppError(CodeSessionNotReady, fmt.Sprintf("session %s is %s", id, status), ErrSessionNotReady)
}

// ExtractionFailed joins the per-method failures so they stay inspectable.
func ExtractionFailed(causes ...error) error {
	return NewAppError(CodeExtractionFailed, "no extraction method produced usable text",
		errors.Join(append([]error{ErrExtractionFailed}, causes...)...))
}

func ChunkBatchFailure(sessionID string, batch int, cause error) error {
	return NewAppError(CodeChunkBatchFailure, fmt.Sprintf("session %s batch %d", sessionID, batch),
		errors.Join(ErrChunkBatchFailure, cause))
}

func ConversionTimeout(pages []int, cause error) error {
	return NewAppError(CodeConversionTimeout, fmt.Sprintf("rasterizing pages %v", pages),
		errors.Join(ErrConversionTimeout, cause))
}

func InvalidInput(message string) error {
	return NewAppError(CodeInvalidInput, message, ErrInvalidInput)
}

func SynthesisFailed(reason string) error {
	return NewAppError(CodeSynthesisFailed, reason, ErrSynthesisFailed)
}

// ArchiveUnavailable reports an upload that a remote worker could not reach.
func ArchiveUnavailable(sessionID string, cause error) error {
	return NewAppError(CodeArchiveUnavailable, fmt.Sprintf("session %s upload could not be archived for background processing", sessionID),
		errors.Join(ErrArchiveUnavailable, cause))
}

// CodeOf returns the AppError code in err's chain, or "" when there is none.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
