package tlv

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"
)

// Writer encodes elements to an io.Writer.
type Writer struct {
	w       io.Writer
	scratch []byte
	depth   int
}

// NewWriter creates a new Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, scratch: make([]byte, 0, 16)}
}

func (w *Writer) header(t ElementType, tag Tag) []byte {
	b := append(w.scratch[:0], controlOctet(t, tag))
	if tag.IsContext() {
		b = append(b, tag.Number())
	}
	return b
}

func (w *Writer) emit(b []byte) error {
	_, err := w.w.Write(b)
	w.scratch = b[:0]
	return err
}

// PutUint writes an unsigned integer.
func (w *Writer) PutUint(tag Tag, v uint64) error {
	b := w.header(ElementTypeUint, tag)
	return w.emit(binary.AppendUvarint(b, v))
}

// PutInt writes a signed integer.
func (w *Writer) PutInt(tag Tag, v int64) error {
	b := w.header(ElementTypeInt, tag)
	return w.emit(binary.AppendVarint(b, v))
}

// PutBool writes a boolean.
func (w *Writer) PutBool(tag Tag, v bool) error {
	t := ElementTypeFalse
	if v {
		t = ElementTypeTrue
	}
	return w.emit(w.header(t, tag))
}

// PutNull writes a null element.
func (w *Writer) PutNull(tag Tag) error {
	return w.emit(w.header(ElementTypeNull, tag))
}

// PutString writes a UTF-8 string.
func (w *Writer) PutString(tag Tag, v string) error {
	if !utf8.ValidString(v) {
		return ErrInvalidUTF8
	}
	return w.putLengthPrefixed(ElementTypeUTF8, tag, []byte(v))
}

// PutBytes writes an octet string.
func (w *Writer) PutBytes(tag Tag, v []byte) error {
	return w.putLengthPrefixed(ElementTypeBytes, tag, v)
}

func (w *Writer) putLengthPrefixed(t ElementType, tag Tag, data []byte) error {
	b := w.header(t, tag)
	b = binary.AppendUvarint(b, uint64(len(data)))
	if err := w.emit(b); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.w.Write(data)
	return err
}

// PutStrings writes an array of UTF-8 strings.
func (w *Writer) PutStrings(tag Tag, vs []string) error {
	if err := w.StartArray(tag); err != nil {
		return err
	}
	for _, v := range vs {
		if err := w.PutString(Anonymous(), v); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// PutUints writes an array of unsigned integers.
func (w *Writer) PutUints(tag Tag, vs []uint64) error {
	if err := w.StartArray(tag); err != nil {
		return err
	}
	for _, v := range vs {
		if err := w.PutUint(Anonymous(), v); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// StartStructure opens a structure. Members should carry context tags.
func (w *Writer) StartStructure(tag Tag) error {
	return w.startContainer(ElementTypeStruct, tag)
}

// StartArray opens an array. Members should be anonymous.
func (w *Writer) StartArray(tag Tag) error {
	return w.startContainer(ElementTypeArray, tag)
}

func (w *Writer) startContainer(t ElementType, tag Tag) error {
	if w.depth >= MaxDepth {
		return ErrTooDeep
	}
	if err := w.emit(w.header(t, tag)); err != nil {
		return err
	}
	w.depth++
	return nil
}

// EndContainer closes the innermost open container.
func (w *Writer) EndContainer() error {
	if w.depth == 0 {
		return ErrNotInContainer
	}
	if err := w.emit(w.header(ElementTypeEnd, Anonymous())); err != nil {
		return err
	}
	w.depth--
	return nil
}

// ContainerDepth returns the number of open containers.
func (w *Writer) ContainerDepth() int {
	return w.depth
}

// Encode runs fn against a fresh writer and returns the encoded bytes.
// All containers opened by fn must be closed.
func Encode(fn func(w *Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := fn(w); err != nil {
		return nil, err
	}
	if w.depth != 0 {
		return nil, ErrContainerNotClosed
	}
	return buf.Bytes(), nil
}
