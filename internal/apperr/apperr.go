// Package apperr defines the application-level fault kind. Its message is safe to show
// to clients; every other error is masked by the HTTP error envelope.
package apperr

import "errors"

// Error is an intentionally raised, caller-meaningful fault.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an application fault with the given client-facing message.
func New(message string) *Error {
	return &Error{Message: message}
}

// Wrap returns an application fault carrying message for the client and err for logs.
func Wrap(err error, message string) *Error {
	return &Error{Message: message, Err: err}
}

// As returns the first application fault in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
