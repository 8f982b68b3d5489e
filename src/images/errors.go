package images

import (
	"errors"
	"fmt"
)

// Error kinds. Check them with errors.Is; the wrapping ValidationError
// carries the message that is safe to show to users.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrNotFound            = errors.New("image not found")
	ErrMalformedRequest    = errors.New("malformed request")
)

// Storage failures are not in this list: they are *oops.Error values,
// so they get logged with a stack and shown to users as a generic message.

type ValidationError struct {
	Kind error
	Msg  string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func newValidationError(kind error, format string, args ...any) error {
	return &ValidationError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func Malformed(format string, args ...any) error {
	return newValidationError(ErrMalformedRequest, format, args...)
}

// UserMessage returns the message to show a client for err, and whether the
// error was one of the user-facing kinds at all.
func UserMessage(err error) (string, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Msg, true
	}
	if errors.Is(err, ErrNotFound) {
		return "Image not found", true
	}
	return "", false
}
