package message

import (
	"encoding/binary"
	"errors"
	"io"
)

// FrameType identifies the content of a transport frame.
type FrameType uint8

const (
	// FrameConnectRequest opens channel initialization from the consumer.
	FrameConnectRequest FrameType = 1
	// FrameConnectAck accepts the channel and carries negotiated parameters.
	FrameConnectAck FrameType = 2
	// FrameConnectNak rejects the channel.
	FrameConnectNak FrameType = 3
	// FrameData carries one fragment of an encoded Msg.
	FrameData FrameType = 4
	// FramePing is a heartbeat with an empty body.
	FramePing FrameType = 5
)

// String returns a human-readable name for the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameConnectRequest:
		return "ConnectRequest"
	case FrameConnectAck:
		return "ConnectAck"
	case FrameConnectNak:
		return "ConnectNak"
	case FrameData:
		return "Data"
	case FramePing:
		return "Ping"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the frame type is a defined value.
func (t FrameType) IsValid() bool {
	return t >= FrameConnectRequest && t <= FramePing
}

// FrameFlags are per-frame option bits.
type FrameFlags uint8

const (
	// FrameFlagMore marks a data fragment that is followed by another
	// fragment of the same message.
	FrameFlagMore FrameFlags = 0x01
)

// Frame is a single unit on the byte stream.
type Frame struct {
	Type  FrameType
	Flags FrameFlags
	Body  []byte
}

// WireSize returns the number of bytes the frame occupies on the stream.
func (f *Frame) WireSize() int {
	return LengthPrefixSize + FrameHeaderSize + len(f.Body)
}

// AppendTo appends the length-prefixed encoding of the frame to dst.
func (f *Frame) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(FrameHeaderSize+len(f.Body)))
	dst = append(dst, byte(f.Type), byte(f.Flags))
	return append(dst, f.Body...)
}

// Encode returns the length-prefixed encoding of the frame.
func (f *Frame) Encode() []byte {
	return f.AppendTo(make([]byte, 0, f.WireSize()))
}

// StreamWriter writes length-prefixed frames to an io.Writer.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a new frame writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteFrame writes one frame.
func (sw *StreamWriter) WriteFrame(f *Frame) error {
	_, err := sw.w.Write(f.Encode())
	return err
}

// StreamReader reads length-prefixed frames from an io.Reader.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader creates a new frame reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// ReadFrame reads one frame. It returns io.EOF when the stream ends cleanly
// between frames.
func (sr *StreamReader) ReadFrame() (*Frame, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Join(ErrStreamReadFailed, err)
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n < FrameHeaderSize {
		return nil, ErrInvalidLengthPrefix
	}
	if n > MaxFrameSize {
		return nil, ErrMessageTooLong
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(sr.r, buf); err != nil {
		return nil, errors.Join(ErrStreamReadFailed, err)
	}

	f := &Frame{
		Type:  FrameType(buf[0]),
		Flags: FrameFlags(buf[1]),
		Body:  buf[FrameHeaderSize:],
	}
	if !f.Type.IsValid() {
		return nil, ErrInvalidFrameType
	}
	return f, nil
}

// Fragment splits an encoded message into data frames whose bodies are at
// most maxBody bytes. Every frame but the last carries FrameFlagMore.
func Fragment(payload []byte, maxBody int) []*Frame {
	if maxBody <= 0 || len(payload) <= maxBody {
		return []*Frame{{Type: FrameData, Body: payload}}
	}
	frames := make([]*Frame, 0, (len(payload)+maxBody-1)/maxBody)
	for off := 0; off < len(payload); off += maxBody {
		end := min(off+maxBody, len(payload))
		f := &Frame{Type: FrameData, Body: payload[off:end]}
		if end < len(payload) {
			f.Flags = FrameFlagMore
		}
		frames = append(frames, f)
	}
	return frames
}
