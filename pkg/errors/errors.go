package errors

import (
	"errors"
	"fmt"
)

// Error classes. Every concrete error below wraps exactly one of them, so
// callers can match either the class or the concrete case with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrAuth       = errors.New("authentication failed")
	ErrNotFound   = errors.New("not found")
)

var (
	ErrUserNotFound             = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrTransactionNotFound      = fmt.Errorf("%w: transaction not found", ErrNotFound)
	ErrEmailAlreadyRegistered   = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrIdempotencyConflict      = fmt.Errorf("%w: idempotency key already used", ErrConflict)
	ErrInvalidCredentials       = fmt.Errorf("%w: could not validate credentials", ErrAuth)
	ErrNilUser                  = fmt.Errorf("%w: user is nil", ErrValidation)
	ErrNilTransaction           = fmt.Errorf("%w: transaction is nil", ErrValidation)
	ErrInvalidTransactionStatus = fmt.Errorf("%w: invalid transaction status", ErrValidation)
)

// Validationf returns an ErrValidation carrying a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
