package types

import "errors"

var (
	// ErrNotFound is returned by stores when an id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrSessionEnded is returned when mutating a session that has been ended.
	ErrSessionEnded = errors.New("session has ended")
)
