package ping

import "errors"

// Ping errors.
var (
	// ErrLivenessTimeout is returned by Tick when nothing arrived from the
	// provider within the receive interval.
	ErrLivenessTimeout = errors.New("ping: no inbound traffic within receive interval")

	// ErrNotStarted is returned by Tick before Start.
	ErrNotStarted = errors.New("ping: monitor not started")

	// ErrInvalidTimeout is returned by Start for a non-positive timeout.
	ErrInvalidTimeout = errors.New("ping: invalid timeout")
)
