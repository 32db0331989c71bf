package message

import "errors"

// Message layer errors.
var (
	// ErrProtocolDecode is returned when an inbound message or frame is malformed.
	// Decoders wrap the underlying cause.
	ErrProtocolDecode = errors.New("message: protocol decode error")

	// ErrMissingField is returned when a required message attribute is absent.
	ErrMissingField = errors.New("message: missing required field")

	// Frame errors
	ErrMessageTooLong      = errors.New("message: exceeds maximum size")
	ErrInvalidLengthPrefix = errors.New("message: invalid length prefix")
	ErrInvalidFrameType    = errors.New("message: invalid frame type")
	ErrStreamReadFailed    = errors.New("message: failed to read from stream")
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the little-endian frame length prefix.
	LengthPrefixSize = 4

	// FrameHeaderSize is the frame type octet plus the flags octet.
	FrameHeaderSize = 2

	// MaxFrameSize bounds a single frame, header included.
	MaxFrameSize = 1 << 20

	// DefaultMaxFragmentSize is the fragment size offered by a provider that
	// does not negotiate one.
	DefaultMaxFragmentSize = 6144
)
