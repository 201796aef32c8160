// Package errors provides coded, structured errors for the photo album service.
//
// Every error that crosses a package boundary carries a machine-readable Code
// so the HTTP layer and the CLI can react to the kind of failure without
// string matching:
//
//	err := errors.New(errors.ErrCodeInvalidCrop, "crop width must be positive, got %d", w)
//	if errors.Is(err, errors.ErrCodeInvalidCrop) {
//	    // reject the request
//	}
//
//	// Wrap an underlying failure, keeping it reachable through errors.Unwrap
//	err := errors.Wrap(errors.ErrCodeDecode, cause, "failed to decode %s", path)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidCrop     Code = "INVALID_CROP"
	ErrCodeInvalidRotation Code = "INVALID_ROTATION"
	ErrCodeInvalidFormat   Code = "INVALID_FORMAT"
	ErrCodeOutOfBounds     Code = "OUT_OF_BOUNDS"
	ErrCodeImageTooLarge   Code = "IMAGE_TOO_LARGE"

	// Raster codec errors
	ErrCodeDecode Code = "DECODE_ERROR"
	ErrCodeEncode Code = "ENCODE_ERROR"

	// Resource not found errors
	ErrCodeAlbumNotFound Code = "ALBUM_NOT_FOUND"
	ErrCodePhotoNotFound Code = "PHOTO_NOT_FOUND"

	// Authentication errors
	ErrCodeUnauthorized Code = "UNAUTHORIZED"

	// Backend errors
	ErrCodeStorage Code = "STORAGE_ERROR"
	ErrCodePersist Code = "PERSIST_ERROR"
	ErrCodeNetwork Code = "NETWORK_ERROR"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns the message without the code prefix for *Error values,
// and the plain error string otherwise.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsNotFound reports whether err is one of the *_NOT_FOUND codes.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case ErrCodeAlbumNotFound, ErrCodePhotoNotFound:
		return true
	}
	return false
}
