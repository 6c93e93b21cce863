package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrInvalidTransition is returned when a session is asked to move backwards or sideways.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrInitiation marks a rejected or failed outbound call request.
	ErrInitiation = errors.New("call initiation failed")
	// ErrTimeout marks a call that produced no terminal event in time.
	ErrTimeout = errors.New("call timed out")
	// ErrMalformedEvent marks a webhook payload that cannot be interpreted.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrUnknownSession marks a webhook referencing a call id with no registered session.
	ErrUnknownSession = errors.New("unknown call session")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
