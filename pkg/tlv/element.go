// Package tlv implements the compact tag-length-value element codec used for
// every message payload exchanged with a provider.
//
// An element is a control octet, an optional one-octet context tag, and a
// value. The lower five bits of the control octet carry the element type and
// the high bit signals that a context tag follows. Integers are varints,
// strings and octet strings are length-prefixed with a uvarint, and
// structures and arrays are closed by an end-of-container element.
package tlv

// ElementType represents the type of an element as encoded in the lower
// five bits of the control octet.
type ElementType uint8

const (
	ElementTypeUint   ElementType = 0x01 // Unsigned integer, uvarint
	ElementTypeInt    ElementType = 0x02 // Signed integer, zig-zag varint
	ElementTypeFalse  ElementType = 0x03 // Boolean false
	ElementTypeTrue   ElementType = 0x04 // Boolean true
	ElementTypeUTF8   ElementType = 0x05 // UTF-8 string, uvarint length
	ElementTypeBytes  ElementType = 0x06 // Octet string, uvarint length
	ElementTypeNull   ElementType = 0x07 // Null
	ElementTypeStruct ElementType = 0x10 // Structure
	ElementTypeArray  ElementType = 0x11 // Array
	ElementTypeEnd    ElementType = 0x1F // End of container
)

const (
	typeMask      uint8 = 0x1F
	contextTagBit uint8 = 0x80
)

// String returns the string representation of the element type.
func (e ElementType) String() string {
	switch e {
	case ElementTypeUint:
		return "Uint"
	case ElementTypeInt:
		return "Int"
	case ElementTypeFalse:
		return "False"
	case ElementTypeTrue:
		return "True"
	case ElementTypeUTF8:
		return "UTF8"
	case ElementTypeBytes:
		return "Bytes"
	case ElementTypeNull:
		return "Null"
	case ElementTypeStruct:
		return "Struct"
	case ElementTypeArray:
		return "Array"
	case ElementTypeEnd:
		return "EndOfContainer"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the element type is a defined value.
func (e ElementType) IsValid() bool {
	switch e {
	case ElementTypeUint, ElementTypeInt, ElementTypeFalse, ElementTypeTrue,
		ElementTypeUTF8, ElementTypeBytes, ElementTypeNull,
		ElementTypeStruct, ElementTypeArray, ElementTypeEnd:
		return true
	}
	return false
}

// IsBool returns true if the element type is a boolean.
func (e ElementType) IsBool() bool {
	return e == ElementTypeFalse || e == ElementTypeTrue
}

// IsString returns true for UTF-8 and octet strings.
func (e ElementType) IsString() bool {
	return e == ElementTypeUTF8 || e == ElementTypeBytes
}

// IsContainer returns true for structures and arrays.
func (e ElementType) IsContainer() bool {
	return e == ElementTypeStruct || e == ElementTypeArray
}

// controlOctet builds the control octet for an element.
func controlOctet(t ElementType, tag Tag) byte {
	ctrl := byte(t) & typeMask
	if tag.IsContext() {
		ctrl |= contextTagBit
	}
	return ctrl
}
