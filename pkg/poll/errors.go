package poll

import "errors"

var (
	// ErrClosed is returned when the poller has been closed.
	ErrClosed = errors.New("poll: closed")

	// ErrAlreadyRegistered is returned when a source is registered twice.
	ErrAlreadyRegistered = errors.New("poll: source already registered")

	// ErrNotRegistered is returned when modifying or removing an unknown source.
	ErrNotRegistered = errors.New("poll: source not registered")

	// ErrNilSource is returned when a nil source is registered.
	ErrNilSource = errors.New("poll: nil source")
)
