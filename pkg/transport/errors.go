package transport

import "errors"

// Transport errors.
var (
	// ErrConnect is returned when the dial, encryption upgrade or connect
	// handshake fails.
	ErrConnect = errors.New("transport: connect failed")

	// ErrHandshakeTimeout is returned when channel initialization sees no
	// progress within the allowed time.
	ErrHandshakeTimeout = errors.New("transport: handshake timeout")

	// ErrFlush is returned when queued output cannot be written.
	ErrFlush = errors.New("transport: flush failed")

	// ErrBufferExhausted is returned when no output buffer is available
	// even after a flush.
	ErrBufferExhausted = errors.New("transport: output buffers exhausted")

	// ErrNoBuffers is returned by GetBuffer when the pool is empty.
	ErrNoBuffers = errors.New("transport: no output buffers available")

	// ErrClosed is returned when an operation is attempted on a closed channel.
	ErrClosed = errors.New("transport: closed")

	// ErrNotActive is returned when an operation requires an active channel.
	ErrNotActive = errors.New("transport: channel not active")

	// ErrConnectionLost is returned when the peer closes the connection or
	// the read side fails.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrUnexpectedFrame is returned for a frame type not valid in the
	// current channel state.
	ErrUnexpectedFrame = errors.New("transport: unexpected frame")

	// ErrMessageTooLarge is returned when a reassembled message exceeds
	// MaxMessageSize.
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrInvalidConfig is returned by Connect for an unusable configuration.
	ErrInvalidConfig = errors.New("transport: invalid configuration")

	// ErrBufferReleased is returned when writing a buffer that was released.
	ErrBufferReleased = errors.New("transport: buffer already released")
)
