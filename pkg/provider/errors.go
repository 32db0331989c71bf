package provider

import "errors"

// Provider errors.
var (
	// ErrClosed is returned when an operation is attempted on a stopped server.
	ErrClosed = errors.New("provider: closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("provider: already started")

	// ErrNoServices is returned when the server has no service to offer.
	ErrNoServices = errors.New("provider: no services configured")
)
