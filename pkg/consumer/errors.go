package consumer

import "errors"

// Consumer errors.
var (
	// ErrInvalidConfig is returned when the session configuration is invalid.
	ErrInvalidConfig = errors.New("consumer: invalid configuration")

	// ErrAlreadyRunning is returned when Run is called more than once.
	ErrAlreadyRunning = errors.New("consumer: session already run")

	// ErrConfigFile is returned when a config file cannot be parsed.
	ErrConfigFile = errors.New("consumer: invalid config file")
)
