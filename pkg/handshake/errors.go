package handshake

import "errors"

// Handshake errors. All of them are terminal for the session.
var (
	// ErrLoginRejected is returned when the provider refuses or closes the
	// login stream.
	ErrLoginRejected = errors.New("handshake: login rejected")

	// ErrServiceUnavailable is returned when the configured service is not
	// in the directory, or is not up and accepting requests.
	ErrServiceUnavailable = errors.New("handshake: service unavailable")

	// ErrCapabilityUnsupported is returned when the target service lacks a
	// required domain.
	ErrCapabilityUnsupported = errors.New("handshake: capability unsupported")

	// ErrDictionaryLoad is returned when a dictionary cannot be obtained
	// from the provider.
	ErrDictionaryLoad = errors.New("handshake: dictionary load failed")

	// ErrNotStarted is returned by Handle before Start.
	ErrNotStarted = errors.New("handshake: not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("handshake: already started")

	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("handshake: invalid configuration")
)
