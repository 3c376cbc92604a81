package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotTracked is returned for commands from users without an active subscription.
	ErrUserNotTracked = errors.New("user is not tracked")
	// ErrGroupNotFound is returned for unknown or already removed groups.
	ErrGroupNotFound = errors.New("group not found")
	// ErrInvalidSelection is returned for callbacks that reference an unknown prompt or an out of range value.
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrInvalidTimezone is returned when a timezone is neither an IANA name nor a +HHMM offset.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrStorageUnavailable wraps every write-through failure. The in-memory state is left untouched.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
