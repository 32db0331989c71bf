package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/backkem/feedconsumer/pkg/message"
)

// PipePair is an in-memory, synchronous connection between a Channel and
// a scripted peer. Writes block until the other side reads, which makes
// backpressure deterministic in tests: a peer that stops reading stalls
// the channel's flush.
type PipePair struct {
	client net.Conn
	server net.Conn

	mu     sync.Mutex
	dialed bool

	// DialDelay postpones Dial, to exercise in-progress initialization.
	DialDelay time.Duration
}

// NewPipePair creates a connected pipe pair.
func NewPipePair() *PipePair {
	c, s := net.Pipe()
	return &PipePair{client: c, server: s}
}

// Dial hands out the client end once. It can be used as ConnectConfig.Dial.
func (p *PipePair) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	p.mu.Lock()
	if p.dialed {
		p.mu.Unlock()
		return nil, errors.New("pipe already dialed")
	}
	p.dialed = true
	delay := p.DialDelay
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			p.client.Close()
			return nil, ctx.Err()
		}
	}
	return p.client, nil
}

// Server returns the peer end.
func (p *PipePair) Server() net.Conn {
	return p.server
}

// Close closes both ends.
func (p *PipePair) Close() error {
	err := p.client.Close()
	if serr := p.server.Close(); err == nil {
		err = serr
	}
	return err
}

// Peer is a minimal provider side of a PipePair for driving a Channel
// through initialization in tests.
type Peer struct {
	conn net.Conn
	r    *message.StreamReader
	w    *message.StreamWriter
}

// NewPeer wraps the server end of a pipe.
func NewPeer(conn net.Conn) *Peer {
	return &Peer{
		conn: conn,
		r:    message.NewStreamReader(conn),
		w:    message.NewStreamWriter(conn),
	}
}

// Accept reads the connect request and answers with ack.
func (p *Peer) Accept(ack message.ConnectAck) (*message.ConnectRequest, error) {
	f, err := p.r.ReadFrame()
	if err != nil {
		return nil, err
	}
	if f.Type != message.FrameConnectRequest {
		return nil, ErrUnexpectedFrame
	}
	req, err := message.DecodeConnectRequest(f.Body)
	if err != nil {
		return nil, err
	}
	if ack.Version == 0 {
		ack.Version = req.Version
	}
	af, err := ack.Frame()
	if err != nil {
		return nil, err
	}
	return req, p.w.WriteFrame(af)
}

// Reject reads the connect request and answers with a nak.
func (p *Peer) Reject(reason string) error {
	if _, err := p.r.ReadFrame(); err != nil {
		return err
	}
	nak := &message.ConnectNak{Reason: reason}
	f, err := nak.Frame()
	if err != nil {
		return err
	}
	return p.w.WriteFrame(f)
}

// ReadFrame reads one frame from the channel.
func (p *Peer) ReadFrame() (*message.Frame, error) {
	return p.r.ReadFrame()
}

// WriteFrame writes one frame to the channel.
func (p *Peer) WriteFrame(f *message.Frame) error {
	return p.w.WriteFrame(f)
}

// Close closes the peer end.
func (p *Peer) Close() error {
	return p.conn.Close()
}
