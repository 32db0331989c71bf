package tlv

import "fmt"

// Tag identifies an element within its enclosing structure.
// Elements inside arrays and at the top level are anonymous.
type Tag struct {
	context bool
	number  uint8
}

// Anonymous returns a new anonymous tag.
func Anonymous() Tag {
	return Tag{}
}

// ContextTag returns a new context-specific tag with the given number.
func ContextTag(n uint8) Tag {
	return Tag{context: true, number: n}
}

// IsAnonymous returns true if the tag carries no number.
func (t Tag) IsAnonymous() bool {
	return !t.context
}

// IsContext returns true if the tag is context-specific.
func (t Tag) IsContext() bool {
	return t.context
}

// Number returns the context tag number. Zero for anonymous tags.
func (t Tag) Number() uint8 {
	return t.number
}

// String returns a human-readable form of the tag.
func (t Tag) String() string {
	if !t.context {
		return "Anonymous"
	}
	return fmt.Sprintf("Context(%d)", t.number)
}
