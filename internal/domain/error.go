package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAlreadySubscribed = errors.New("user is already subscribed")
	ErrNotSubscribed     = errors.New("user is not subscribed")

	// Infrastructure preconditions
	ErrBotNotInitialized = errors.New("telegram bot is not initialized")
	ErrLockHeld          = errors.New("lock is held by another owner")
)

// LookupError reports a failed weather lookup for a single city.
// StatusCode is set when the provider answered with a non-2xx status;
// Err is set for transport or decoding failures.
type LookupError struct {
	City       string
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("weather lookup %q: %v", e.City, e.Err)
	}
	return fmt.Sprintf("weather lookup %q: status %d", e.City, e.StatusCode)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsRejected is true when the provider did not recognise the city.
func (e *LookupError) IsRejected() bool { return e.Err == nil }
