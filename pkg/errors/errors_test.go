package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidCrop, "crop width must be positive, got %d", 0)

	if err.Code != ErrCodeInvalidCrop {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidCrop)
	}

	expected := "INVALID_CROP: crop width must be positive, got 0"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := Wrap(ErrCodeDecode, cause, "failed to decode image")

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}

	expected := "DECODE_ERROR: failed to decode image: unexpected EOF"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{"matching code", New(ErrCodeEncode, "x"), ErrCodeEncode, true},
		{"different code", New(ErrCodeEncode, "x"), ErrCodeDecode, false},
		{"wrapped with fmt", fmt.Errorf("upload: %w", New(ErrCodeStorage, "disk full")), ErrCodeStorage, true},
		{"plain error", errors.New("boom"), ErrCodeInternal, false},
		{"nil error", nil, ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCodeAndUserMessage(t *testing.T) {
	err := fmt.Errorf("delete: %w", New(ErrCodePhotoNotFound, "photo %q not found", "p1"))

	if got := GetCode(err); got != ErrCodePhotoNotFound {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodePhotoNotFound)
	}
	if got := UserMessage(err); got != `photo "p1" not found` {
		t.Errorf("UserMessage() = %q", got)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false, want true")
	}

	plain := errors.New("plain")
	if GetCode(plain) != "" {
		t.Error("GetCode(plain) should be empty")
	}
	if UserMessage(plain) != "plain" {
		t.Errorf("UserMessage(plain) = %q", UserMessage(plain))
	}
}
