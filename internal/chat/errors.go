package chat

import "errors"

// Sentinel errors for core operations. Callers wrap them with context and
// match them with errors.Is.
var (
	// ErrValidation is returned for malformed input, such as a message target
	// naming neither or both of recipient and group.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced account or group does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the acting identity is not allowed to read
	// or write the referenced resource.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when a unique attribute is already taken.
	ErrConflict = errors.New("already exists")

	// ErrLogExhausted is returned when the message log cannot accept another
	// message. It is the only fatal condition of a submission.
	ErrLogExhausted = errors.New("message log exhausted")
)
