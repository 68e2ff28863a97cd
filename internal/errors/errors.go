package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes
const (
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeInternal   = "INTERNAL_ERROR"
	ErrCodeBadRequest = "BAD_REQUEST"

	// Engine taxonomy
	ErrCodeStart    = "START_ERROR"    // process spawn or pipe setup failed
	ErrCodeChannel  = "CHANNEL_ERROR"  // read/write failure on a running session
	ErrCodeNotation = "NOTATION_ERROR" // move is not legal in the position
	ErrCodeAnalysis = "ANALYSIS_ERROR" // engine produced no usable result
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	Code    string // Error code (e.g., "NOT_FOUND", "CHANNEL_ERROR")
	Message string // Human-readable error message
	Status  int    // HTTP status code
	Err     error  // Wrapped underlying error (optional)
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error wrapping support
func (e *AppError) Unwrap() error {
	return e.Err
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// NewNotFoundError creates a new NOT_FOUND error
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %v", resource, id),
		Status:  404,
	}
}

// NewValidationError creates a new VALIDATION_ERROR
func NewValidationError(field string, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("validation failed for %s: %s", field, reason),
		Status:  400,
	}
}

// NewInternalError creates a new INTERNAL_ERROR
func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: "internal server error",
		Status:  500,
		Err:     err,
	}
}

// NewBadRequestError creates a new BAD_REQUEST error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  400,
	}
}

// NewStartError reports that the engine at path could not be launched.
func NewStartError(path string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeStart,
		Message: fmt.Sprintf("cannot start engine %q", path),
		Status:  503,
		Err:     err,
	}
}

// NewChannelError reports an I/O failure while talking to a running engine.
func NewChannelError(op string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeChannel,
		Message: fmt.Sprintf("engine channel %s failed", op),
		Status:  503,
		Err:     err,
	}
}

// NewNotationError reports a move that is illegal in the given position.
func NewNotationError(move, fen string) *AppError {
	return &AppError{
		Code:    ErrCodeNotation,
		Message: fmt.Sprintf("move %s is not legal in %s", move, fen),
		Status:  422,
	}
}

// NewAnalysisError reports an analysis that finished without a usable result.
func NewAnalysisError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeAnalysis,
		Message: message,
		Status:  502,
		Err:     err,
	}
}
