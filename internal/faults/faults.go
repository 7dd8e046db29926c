// README: Error kinds returned by the core so callers can map them deterministically.
package faults

import (
	"errors"
	"fmt"
)

// Kind sentinels. Module-level errors wrap one of these so the transport layer
// can classify any core error with errors.Is.
var (
	ErrValidation    = errors.New("validation")
	ErrAuthorization = errors.New("authorization")
	ErrStateConflict = errors.New("state conflict")
	ErrNotFound      = errors.New("not found")
	ErrExternal      = errors.New("external dependency")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Authorization(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func StateConflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func External(err error, what string) error {
	return fmt.Errorf("%w: %s: %v", ErrExternal, what, err)
}
