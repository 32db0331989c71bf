package tlv

import (
	"encoding/binary"
	"io"
	"unicode/utf8"
)

// Reader decodes elements from a byte slice.
//
// Scalar values are decoded eagerly by Next. A container that is not
// entered is skipped in full by the following Next call.
type Reader struct {
	data  []byte
	pos   int
	depth int

	hasElement bool
	elemType   ElementType
	tag        Tag
	entered    bool // current container has been entered

	u   uint64
	i   int64
	raw []byte
}

// NewReader creates a new Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Next advances to the next element. It returns io.EOF at the end of the
// top-level input.
func (r *Reader) Next() error {
	if r.hasElement && r.elemType.IsContainer() && !r.entered {
		if err := r.skipContainerBody(); err != nil {
			return err
		}
	}
	r.hasElement = false

	if r.pos >= len(r.data) {
		if r.depth > 0 {
			return ErrUnexpectedEOF
		}
		return io.EOF
	}

	ctrl := r.data[r.pos]
	r.pos++
	t := ElementType(ctrl & typeMask)
	if !t.IsValid() {
		return ErrInvalidElementType
	}

	tag := Anonymous()
	if ctrl&contextTagBit != 0 {
		if r.pos >= len(r.data) {
			return ErrUnexpectedEOF
		}
		tag = ContextTag(r.data[r.pos])
		r.pos++
	}

	if t == ElementTypeEnd && r.depth == 0 {
		return ErrUnexpectedEndOfContainer
	}

	r.elemType = t
	r.tag = tag
	r.entered = false
	r.u, r.i, r.raw = 0, 0, nil

	switch t {
	case ElementTypeUint:
		v, n := binary.Uvarint(r.data[r.pos:])
		if n <= 0 {
			return ErrUnexpectedEOF
		}
		r.u = v
		r.pos += n
	case ElementTypeInt:
		v, n := binary.Varint(r.data[r.pos:])
		if n <= 0 {
			return ErrUnexpectedEOF
		}
		r.i = v
		r.pos += n
	case ElementTypeUTF8, ElementTypeBytes:
		l, n := binary.Uvarint(r.data[r.pos:])
		if n <= 0 {
			return ErrUnexpectedEOF
		}
		r.pos += n
		if l > uint64(len(r.data)-r.pos) {
			return ErrLengthOverflow
		}
		r.raw = r.data[r.pos : r.pos+int(l)]
		r.pos += int(l)
	}

	r.hasElement = true
	return nil
}

// Type returns the type of the current element.
func (r *Reader) Type() ElementType {
	return r.elemType
}

// Tag returns the tag of the current element.
func (r *Reader) Tag() Tag {
	return r.tag
}

// Uint returns the current element as an unsigned integer. Non-negative
// signed integers are accepted.
func (r *Reader) Uint() (uint64, error) {
	if !r.hasElement {
		return 0, ErrNoElement
	}
	switch r.elemType {
	case ElementTypeUint:
		return r.u, nil
	case ElementTypeInt:
		if r.i < 0 {
			return 0, ErrTypeMismatch
		}
		return uint64(r.i), nil
	}
	return 0, ErrTypeMismatch
}

// Int returns the current element as a signed integer.
func (r *Reader) Int() (int64, error) {
	if !r.hasElement {
		return 0, ErrNoElement
	}
	switch r.elemType {
	case ElementTypeInt:
		return r.i, nil
	case ElementTypeUint:
		if r.u > 1<<63-1 {
			return 0, ErrTypeMismatch
		}
		return int64(r.u), nil
	}
	return 0, ErrTypeMismatch
}

// Bool returns the current element as a boolean.
func (r *Reader) Bool() (bool, error) {
	if !r.hasElement {
		return false, ErrNoElement
	}
	if !r.elemType.IsBool() {
		return false, ErrTypeMismatch
	}
	return r.elemType == ElementTypeTrue, nil
}

// String returns the current element as a UTF-8 string.
func (r *Reader) String() (string, error) {
	if !r.hasElement {
		return "", ErrNoElement
	}
	if r.elemType != ElementTypeUTF8 {
		return "", ErrTypeMismatch
	}
	if !utf8.Valid(r.raw) {
		return "", ErrInvalidUTF8
	}
	return string(r.raw), nil
}

// Bytes returns a copy of the current octet string.
func (r *Reader) Bytes() ([]byte, error) {
	if !r.hasElement {
		return nil, ErrNoElement
	}
	if r.elemType != ElementTypeBytes {
		return nil, ErrTypeMismatch
	}
	out := make([]byte, len(r.raw))
	copy(out, r.raw)
	return out, nil
}

// EnterContainer enters the current structure or array.
func (r *Reader) EnterContainer() error {
	if !r.hasElement {
		return ErrNoElement
	}
	if !r.elemType.IsContainer() || r.entered {
		return ErrTypeMismatch
	}
	if r.depth >= MaxDepth {
		return ErrTooDeep
	}
	r.entered = true
	r.depth++
	r.hasElement = false
	return nil
}

// ExitContainer leaves the innermost container, discarding any elements
// that were not read.
func (r *Reader) ExitContainer() error {
	if r.depth == 0 {
		return ErrNotInContainer
	}
	if r.hasElement && r.elemType == ElementTypeEnd {
		r.depth--
		r.hasElement = false
		return nil
	}
	if err := r.skipContainerBodyFrom(r.hasElement && r.elemType.IsContainer() && !r.entered); err != nil {
		return err
	}
	r.depth--
	r.hasElement = false
	return nil
}

// Skip discards the current element, including nested content.
func (r *Reader) Skip() error {
	if !r.hasElement {
		return ErrNoElement
	}
	if r.elemType.IsContainer() && !r.entered {
		if err := r.skipContainerBody(); err != nil {
			return err
		}
	}
	r.hasElement = false
	return nil
}

// IsEndOfContainer returns true if the current element closes a container.
func (r *Reader) IsEndOfContainer() bool {
	return r.hasElement && r.elemType == ElementTypeEnd
}

// ContainerDepth returns the current container nesting depth.
func (r *Reader) ContainerDepth() int {
	return r.depth
}

// skipContainerBody consumes elements up to and including the end marker
// of the current, not yet entered, container.
func (r *Reader) skipContainerBody() error {
	r.entered = true
	return r.scanToEnd(1)
}

// skipContainerBodyFrom consumes the rest of the innermost entered
// container. When pendingNested is set the current element is itself an
// unentered container whose body must be consumed as well.
func (r *Reader) skipContainerBodyFrom(pendingNested bool) error {
	level := 1
	if pendingNested {
		r.entered = true
		level = 2
	}
	return r.scanToEnd(level)
}

// scanToEnd walks raw elements until level end markers have been seen.
func (r *Reader) scanToEnd(level int) error {
	for level > 0 {
		if r.pos >= len(r.data) {
			return ErrUnexpectedEOF
		}
		ctrl := r.data[r.pos]
		r.pos++
		t := ElementType(ctrl & typeMask)
		if !t.IsValid() {
			return ErrInvalidElementType
		}
		if ctrl&contextTagBit != 0 {
			r.pos++
		}
		switch {
		case t == ElementTypeEnd:
			level--
		case t.IsContainer():
			level++
		case t == ElementTypeUint || t == ElementTypeInt:
			_, n := binary.Uvarint(r.data[min(r.pos, len(r.data)):])
			if n <= 0 {
				return ErrUnexpectedEOF
			}
			r.pos += n
		case t.IsString():
			l, n := binary.Uvarint(r.data[min(r.pos, len(r.data)):])
			if n <= 0 {
				return ErrUnexpectedEOF
			}
			r.pos += n
			if l > uint64(len(r.data)-r.pos) {
				return ErrLengthOverflow
			}
			r.pos += int(l)
		}
	}
	return nil
}

// Strings reads the current array as a list of strings, keeping at most
// limit entries and discarding the rest. A limit of zero keeps all.
func (r *Reader) Strings(limit int) ([]string, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	var out []string
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, r.ExitContainer()
}

// Uints reads the current array as a list of unsigned integers, keeping at
// most limit entries and discarding the rest. A limit of zero keeps all.
func (r *Reader) Uints(limit int) ([]uint64, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	var out []uint64
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		v, err := r.Uint()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, r.ExitContainer()
}
