package chat

import "errors"

var (
	// ErrNotFound is returned when a conversation, message or user does not exist.
	ErrNotFound = errors.New("chat: not found")
	// ErrNotMember is returned when the acting user is not a participant of the
	// target conversation. It is surfaced, never silently dropped.
	ErrNotMember = errors.New("chat: not a conversation member")
	// ErrNotAdmin is returned when a group mutation requires admin rights.
	ErrNotAdmin = errors.New("chat: admin only")
)

// ValidationError rejects malformed input synchronously; it is never retried.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "chat: " + e.Reason
}

// Validation builds a ValidationError.
func Validation(reason string) error {
	return ValidationError{Reason: reason}
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
