package message

import (
	"fmt"

	"github.com/backkem/feedconsumer/pkg/tlv"
)

// State is the stream and data state carried by refresh and status messages.
type State struct {
	Stream StreamState
	Data   DataState
	Code   uint16
	Text   string
}

// String returns a compact representation for logging.
func (s State) String() string {
	if s.Text == "" {
		return fmt.Sprintf("%s/%s", s.Stream, s.Data)
	}
	return fmt.Sprintf("%s/%s %q", s.Stream, s.Data, s.Text)
}

// IsOpenOk returns true when the stream is open and the data is healthy.
func (s State) IsOpenOk() bool {
	return s.Stream == StreamStateOpen && s.Data == DataStateOk
}

// Key identifies the item a stream refers to.
type Key struct {
	Name      string
	NameType  NameType
	ServiceID uint16
	HasServID bool

	// Filter carries the directory filter or dictionary verbosity.
	Filter uint32

	// Attrib is a domain-specific encoded attribute structure.
	Attrib []byte
}

// Msg is a decoded message. Payload holds the domain-specific encoded body,
// interpreted by the rdm package.
type Msg struct {
	Class    Class
	Domain   Domain
	StreamID int32
	Flags    Flags

	// State is present on refresh and status messages.
	State    State
	HasState bool

	// Key is present on requests and, optionally, on refreshes.
	Key    Key
	HasKey bool

	Payload []byte
}

// String returns a compact representation for logging.
func (m *Msg) String() string {
	return fmt.Sprintf("%s %s stream=%d", m.Domain, m.Class, m.StreamID)
}

// Msg element tags.
const (
	tagClass    = 1
	tagDomain   = 2
	tagStreamID = 3
	tagFlags    = 4
	tagState    = 5
	tagKey      = 6
	tagPayload  = 7
)

// State and key member tags.
const (
	tagStateStream = 1
	tagStateData   = 2
	tagStateCode   = 3
	tagStateText   = 4

	tagKeyName      = 1
	tagKeyNameType  = 2
	tagKeyServiceID = 3
	tagKeyFilter    = 4
	tagKeyAttrib    = 5
)

// Encode serializes the message to its wire form.
func (m *Msg) Encode() ([]byte, error) {
	if !m.Class.IsValid() {
		return nil, fmt.Errorf("encode %s: invalid class %d", m.Domain, m.Class)
	}
	return tlv.Encode(func(w *tlv.Writer) error {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagClass), uint64(m.Class)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagDomain), uint64(m.Domain)); err != nil {
			return err
		}
		if err := w.PutInt(tlv.ContextTag(tagStreamID), int64(m.StreamID)); err != nil {
			return err
		}
		if m.Flags != 0 {
			if err := w.PutUint(tlv.ContextTag(tagFlags), uint64(m.Flags)); err != nil {
				return err
			}
		}
		if m.HasState {
			if err := encodeState(w, m.State); err != nil {
				return err
			}
		}
		if m.HasKey {
			if err := encodeKey(w, m.Key); err != nil {
				return err
			}
		}
		if len(m.Payload) > 0 {
			if err := w.PutBytes(tlv.ContextTag(tagPayload), m.Payload); err != nil {
				return err
			}
		}
		return w.EndContainer()
	})
}

func encodeState(w *tlv.Writer, s State) error {
	if err := w.StartStructure(tlv.ContextTag(tagState)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(tagStateStream), uint64(s.Stream)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(tagStateData), uint64(s.Data)); err != nil {
		return err
	}
	if s.Code != 0 {
		if err := w.PutUint(tlv.ContextTag(tagStateCode), uint64(s.Code)); err != nil {
			return err
		}
	}
	if s.Text != "" {
		if err := w.PutString(tlv.ContextTag(tagStateText), s.Text); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func encodeKey(w *tlv.Writer, k Key) error {
	if err := w.StartStructure(tlv.ContextTag(tagKey)); err != nil {
		return err
	}
	if k.Name != "" {
		if err := w.PutString(tlv.ContextTag(tagKeyName), k.Name); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagKeyNameType), uint64(k.NameType)); err != nil {
			return err
		}
	}
	if k.HasServID {
		if err := w.PutUint(tlv.ContextTag(tagKeyServiceID), uint64(k.ServiceID)); err != nil {
			return err
		}
	}
	if k.Filter != 0 {
		if err := w.PutUint(tlv.ContextTag(tagKeyFilter), uint64(k.Filter)); err != nil {
			return err
		}
	}
	if len(k.Attrib) > 0 {
		if err := w.PutBytes(tlv.ContextTag(tagKeyAttrib), k.Attrib); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// Decode parses a message from its wire form. All failures wrap
// ErrProtocolDecode.
func Decode(data []byte) (*Msg, error) {
	m, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolDecode, err)
	}
	return m, nil
}

func decode(data []byte) (*Msg, error) {
	r := tlv.NewReader(data)
	if err := r.Next(); err != nil {
		return nil, err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return nil, tlv.ErrTypeMismatch
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	m := &Msg{}
	var haveClass, haveDomain, haveStream bool
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().Number() {
		case tagClass:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.Class = Class(v)
			haveClass = true
		case tagDomain:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.Domain = Domain(v)
			haveDomain = true
		case tagStreamID:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			m.StreamID = int32(v)
			haveStream = true
		case tagFlags:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			m.Flags = Flags(v)
		case tagState:
			s, err := decodeState(r)
			if err != nil {
				return nil, err
			}
			m.State = s
			m.HasState = true
		case tagKey:
			k, err := decodeKey(r)
			if err != nil {
				return nil, err
			}
			m.Key = k
			m.HasKey = true
		case tagPayload:
			b, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			m.Payload = b
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}

	if !haveClass || !haveDomain || !haveStream {
		return nil, ErrMissingField
	}
	if !m.Class.IsValid() {
		return nil, fmt.Errorf("invalid class %d", m.Class)
	}
	return m, nil
}

func decodeState(r *tlv.Reader) (State, error) {
	var s State
	if err := r.EnterContainer(); err != nil {
		return s, err
	}
	for {
		if err := r.Next(); err != nil {
			return s, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().Number() {
		case tagStateStream:
			v, err := r.Uint()
			if err != nil {
				return s, err
			}
			s.Stream = StreamState(v)
		case tagStateData:
			v, err := r.Uint()
			if err != nil {
				return s, err
			}
			s.Data = DataState(v)
		case tagStateCode:
			v, err := r.Uint()
			if err != nil {
				return s, err
			}
			s.Code = uint16(v)
		case tagStateText:
			v, err := r.String()
			if err != nil {
				return s, err
			}
			s.Text = v
		}
	}
	return s, r.ExitContainer()
}

func decodeKey(r *tlv.Reader) (Key, error) {
	var k Key
	if err := r.EnterContainer(); err != nil {
		return k, err
	}
	for {
		if err := r.Next(); err != nil {
			return k, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().Number() {
		case tagKeyName:
			v, err := r.String()
			if err != nil {
				return k, err
			}
			k.Name = v
		case tagKeyNameType:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.NameType = NameType(v)
		case tagKeyServiceID:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.ServiceID = uint16(v)
			k.HasServID = true
		case tagKeyFilter:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.Filter = uint32(v)
		case tagKeyAttrib:
			v, err := r.Bytes()
			if err != nil {
				return k, err
			}
			k.Attrib = v
		}
	}
	return k, r.ExitContainer()
}
