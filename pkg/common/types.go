package common

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// Error codes for the fixer
const (
	ErrCodeUnknownArgument      = "UNKNOWN_ARGUMENT"
	ErrCodeWorkingDirNotFound   = "WORKING_DIRECTORY_NOT_FOUND"
	ErrCodeProjectNotFound      = "PROJECT_NOT_FOUND"
	ErrCodeProjectAmbiguous     = "PROJECT_AMBIGUOUS"
	ErrCodeProjectInvalid       = "PROJECT_INVALID"
	ErrCodeVersionNotDeclared   = "VERSION_NOT_DECLARED"
	ErrCodeGeneratorNotFound    = "GENERATOR_NOT_FOUND"
	ErrCodeAppConfigInvalid     = "APP_CONFIG_INVALID"
	ErrCodeFrameworkMismatch    = "FRAMEWORK_MISMATCH"
	ErrCodeFrameworkUnknown     = "FRAMEWORK_UNKNOWN"
	ErrCodeFrameworkAmbiguous   = "FRAMEWORK_AMBIGUOUS"
	ErrCodeGenerationFailed     = "GENERATION_FAILED"
	ErrCodeGeneratorStartFailed = "GENERATOR_START_FAILED"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeIO                   = "IO_ERROR"
	ErrCodeConfigInvalid        = "CONFIG_INVALID"
)

// FixerError represents a classified, terminal failure of a run
type FixerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *FixerError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying cause, if any
func (e *FixerError) Unwrap() error {
	return e.Err
}

// NewFixerError creates a new structured error
func NewFixerError(code, message, details string) *FixerError {
	return &FixerError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapFixerError creates a structured error around an underlying cause
func WrapFixerError(code, message string, err error) *FixerError {
	fe := &FixerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
	if err != nil {
		fe.Details = err.Error()
	}
	return fe
}

// CodeOf returns the code of the first FixerError in err's chain, or "" if there is none
func CodeOf(err error) string {
	var fe *FixerError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// SafeBuffer provides a thread-safe buffer for capturing output
type SafeBuffer struct {
	mu      sync.RWMutex
	buffer  bytes.Buffer
	maxSize int
}

// NewSafeBuffer creates a new safe buffer with optional max size
func NewSafeBuffer(maxSize int) *SafeBuffer {
	if maxSize <= 0 {
		maxSize = 1024 * 1024 // Default 1MB
	}

	return &SafeBuffer{
		maxSize: maxSize,
	}
}

// Write implements io.Writer. Once maxSize is reached the oldest bytes are dropped.
func (sb *SafeBuffer) Write(p []byte) (n int, err error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if len(p) >= sb.maxSize {
		sb.buffer.Reset()
		sb.buffer.Write(p[len(p)-sb.maxSize:])
		return len(p), nil
	}

	if sb.buffer.Len()+len(p) > sb.maxSize {
		excess := sb.buffer.Len() + len(p) - sb.maxSize
		sb.buffer.Next(excess)
	}

	return sb.buffer.Write(p)
}

// String returns the buffer contents as a string
func (sb *SafeBuffer) String() string {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.buffer.String()
}

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	ContextKeyRunID ContextKey = "run_id"
)

// ContextWithRunID adds the run ID to context
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// RunIDFromContext retrieves the run ID from context
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyRunID).(string)
	return id, ok
}
