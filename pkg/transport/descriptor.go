package transport

import (
	"net"
	"sync"

	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/poll"
)

// descriptor is the poll source for one underlying connection. A channel
// that upgrades to TLS replaces its descriptor once, mid-initialization.
//
// Pump goroutines only ever touch the fields guarded by mu and call wake.
type descriptor struct {
	ch *Channel
	id int

	mu   sync.Mutex
	wake func()

	// Result of the asynchronous dial or TLS handshake, until taken by Init.
	setupDone bool
	setupConn net.Conn
	setupErr  error

	frames  []*message.Frame
	readErr error
}

var _ poll.Source = (*descriptor)(nil)

func newDescriptor(ch *Channel, id int) *descriptor {
	return &descriptor{ch: ch, id: id}
}

// Ready implements poll.Source.
func (d *descriptor) Ready() poll.Interest {
	d.mu.Lock()
	var r poll.Interest
	if d.setupDone {
		r |= poll.InterestConnect
	}
	if len(d.frames) > 0 || d.readErr != nil {
		r |= poll.InterestRead
	}
	d.mu.Unlock()

	if d.ch.desc == d && d.ch.writeReady() {
		r |= poll.InterestWrite
	}
	return r
}

// Attach implements poll.Source.
func (d *descriptor) Attach(wake func()) {
	d.mu.Lock()
	d.wake = wake
	d.mu.Unlock()
}

func (d *descriptor) notify() {
	d.mu.Lock()
	wake := d.wake
	d.mu.Unlock()
	if wake != nil {
		wake()
	}
}

func (d *descriptor) completeSetup(conn net.Conn, err error) {
	d.mu.Lock()
	d.setupDone = true
	d.setupConn = conn
	d.setupErr = err
	d.mu.Unlock()
	d.notify()
}

// takeSetup returns the setup result once. done is false while setup is
// still running.
func (d *descriptor) takeSetup() (done bool, conn net.Conn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.setupDone {
		return false, nil, nil
	}
	done, conn, err = true, d.setupConn, d.setupErr
	d.setupDone = false
	d.setupConn = nil
	d.setupErr = nil
	return done, conn, err
}

func (d *descriptor) push(f *message.Frame) {
	d.mu.Lock()
	d.frames = append(d.frames, f)
	d.mu.Unlock()
	d.notify()
}

func (d *descriptor) setReadErr(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
	d.notify()
}

// pop returns the next inbound frame. When none is queued it returns the
// read-side error, if any.
func (d *descriptor) pop() (*message.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil, d.readErr
	}
	f := d.frames[0]
	d.frames[0] = nil
	d.frames = d.frames[1:]
	return f, nil
}
