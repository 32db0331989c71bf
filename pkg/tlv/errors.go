package tlv

import "errors"

var (
	// ErrUnexpectedEOF is returned when the input ends inside an element.
	ErrUnexpectedEOF = errors.New("tlv: unexpected end of input")

	// ErrInvalidElementType is returned when an undefined element type is encountered.
	ErrInvalidElementType = errors.New("tlv: invalid element type")

	// ErrTypeMismatch is returned when reading a value as the wrong type.
	ErrTypeMismatch = errors.New("tlv: type mismatch")

	// ErrNotInContainer is returned when exiting a container while not in one.
	ErrNotInContainer = errors.New("tlv: not in container")

	// ErrUnexpectedEndOfContainer is returned when an end-of-container
	// element appears at the top level.
	ErrUnexpectedEndOfContainer = errors.New("tlv: unexpected end of container")

	// ErrContainerNotClosed is returned by the writer when containers remain open.
	ErrContainerNotClosed = errors.New("tlv: container not closed")

	// ErrInvalidUTF8 is returned when a UTF-8 string contains invalid sequences.
	ErrInvalidUTF8 = errors.New("tlv: invalid UTF-8 string")

	// ErrNoElement is returned when accessing an element before calling Next.
	ErrNoElement = errors.New("tlv: no current element")

	// ErrLengthOverflow is returned when a string length exceeds the remaining input.
	ErrLengthOverflow = errors.New("tlv: length exceeds input")

	// ErrTooDeep is returned when containers nest beyond MaxDepth.
	ErrTooDeep = errors.New("tlv: containers nested too deeply")
)

// MaxDepth bounds container nesting on both encode and decode.
const MaxDepth = 16
