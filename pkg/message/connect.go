package message

import (
	"fmt"

	"github.com/backkem/feedconsumer/pkg/tlv"
)

// ProtocolVersion is the channel protocol version spoken by this package.
const ProtocolVersion = 14

// ConnectRequest is the body of FrameConnectRequest.
type ConnectRequest struct {
	Version uint32

	// PingTimeout is the timeout the consumer asks for, in seconds.
	PingTimeout uint32

	// ClientName identifies the consumer application.
	ClientName string
}

// ConnectAck is the body of FrameConnectAck.
type ConnectAck struct {
	Version uint32

	// PingTimeout is the negotiated timeout, in seconds.
	PingTimeout uint32

	// MaxFragmentSize is the largest data frame body either side may send.
	MaxFragmentSize uint32
}

// ConnectNak is the body of FrameConnectNak.
type ConnectNak struct {
	Reason string
}

const (
	tagConnVersion     = 1
	tagConnPingTimeout = 2
	tagConnClientName  = 3
	tagConnMaxFragment = 3
	tagConnReason      = 1
)

// Frame encodes the request into a frame.
func (c *ConnectRequest) Frame() (*Frame, error) {
	body, err := tlv.Encode(func(w *tlv.Writer) error {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagConnVersion), uint64(c.Version)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagConnPingTimeout), uint64(c.PingTimeout)); err != nil {
			return err
		}
		if err := w.PutString(tlv.ContextTag(tagConnClientName), c.ClientName); err != nil {
			return err
		}
		return w.EndContainer()
	})
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameConnectRequest, Body: body}, nil
}

// Frame encodes the acknowledgement into a frame.
func (c *ConnectAck) Frame() (*Frame, error) {
	body, err := tlv.Encode(func(w *tlv.Writer) error {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagConnVersion), uint64(c.Version)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagConnPingTimeout), uint64(c.PingTimeout)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagConnMaxFragment), uint64(c.MaxFragmentSize)); err != nil {
			return err
		}
		return w.EndContainer()
	})
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameConnectAck, Body: body}, nil
}

// Frame encodes the rejection into a frame.
func (c *ConnectNak) Frame() (*Frame, error) {
	body, err := tlv.Encode(func(w *tlv.Writer) error {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutString(tlv.ContextTag(tagConnReason), c.Reason); err != nil {
			return err
		}
		return w.EndContainer()
	})
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameConnectNak, Body: body}, nil
}

// DecodeConnectRequest parses a FrameConnectRequest body.
func DecodeConnectRequest(body []byte) (*ConnectRequest, error) {
	c := &ConnectRequest{}
	err := walkStruct(body, func(r *tlv.Reader) error {
		var err error
		switch r.Tag().Number() {
		case tagConnVersion:
			c.Version, err = readUint32(r)
		case tagConnPingTimeout:
			c.PingTimeout, err = readUint32(r)
		case tagConnClientName:
			c.ClientName, err = r.String()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect request: %w", ErrProtocolDecode, err)
	}
	return c, nil
}

// DecodeConnectAck parses a FrameConnectAck body.
func DecodeConnectAck(body []byte) (*ConnectAck, error) {
	c := &ConnectAck{}
	err := walkStruct(body, func(r *tlv.Reader) error {
		var err error
		switch r.Tag().Number() {
		case tagConnVersion:
			c.Version, err = readUint32(r)
		case tagConnPingTimeout:
			c.PingTimeout, err = readUint32(r)
		case tagConnMaxFragment:
			c.MaxFragmentSize, err = readUint32(r)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect ack: %w", ErrProtocolDecode, err)
	}
	return c, nil
}

// DecodeConnectNak parses a FrameConnectNak body.
func DecodeConnectNak(body []byte) (*ConnectNak, error) {
	c := &ConnectNak{}
	err := walkStruct(body, func(r *tlv.Reader) error {
		if r.Tag().Number() == tagConnReason {
			s, err := r.String()
			c.Reason = s
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect nak: %w", ErrProtocolDecode, err)
	}
	return c, nil
}

// walkStruct calls fn for every member of the single top-level structure
// in data.
func walkStruct(data []byte, fn func(r *tlv.Reader) error) error {
	r := tlv.NewReader(data)
	if err := r.Next(); err != nil {
		return err
	}
	if err := r.EnterContainer(); err != nil {
		return err
	}
	for {
		if err := r.Next(); err != nil {
			return err
		}
		if r.IsEndOfContainer() {
			break
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return r.ExitContainer()
}

func readUint32(r *tlv.Reader) (uint32, error) {
	v, err := r.Uint()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, tlv.ErrTypeMismatch
	}
	return uint32(v), nil
}
