// Package poll provides readiness polling over event sources whose I/O is
// pumped by background goroutines.
//
// A Source reports which operations can proceed without blocking and
// calls the wake function installed by Attach whenever that may have
// changed. Poll is the only call that suspends: it returns as soon as a
// registered source is ready for an operation it has interest in, or an
// empty result once the timeout elapses.
package poll

import (
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/deadline"
)

// Interest is a set of operations a caller wants to be told about.
type Interest uint8

const (
	// InterestConnect reports completion of connection setup.
	InterestConnect Interest = 1 << iota
	// InterestRead reports inbound data or a read-side error.
	InterestRead
	// InterestWrite reports that queued output can make progress.
	InterestWrite
)

// Has returns true if all bits of o are set.
func (i Interest) Has(o Interest) bool {
	return i&o == o && o != 0
}

// String returns a compact representation such as "Connect|Read".
func (i Interest) String() string {
	if i == 0 {
		return "None"
	}
	var parts []string
	if i&InterestConnect != 0 {
		parts = append(parts, "Connect")
	}
	if i&InterestRead != 0 {
		parts = append(parts, "Read")
	}
	if i&InterestWrite != 0 {
		parts = append(parts, "Write")
	}
	return strings.Join(parts, "|")
}

// Source is anything that can be registered with a Poller.
type Source interface {
	// Ready returns the operations that can currently proceed.
	Ready() Interest

	// Attach installs the function the source calls when its readiness may
	// have changed. A nil wake detaches the source.
	Attach(wake func())
}

// Event is a ready source together with the ready operations it was
// registered for.
type Event struct {
	Source Source
	Ready  Interest
}

// DefaultWriteRecheck is how often readiness is re-evaluated while any
// source has write interest.
const DefaultWriteRecheck = 5 * time.Millisecond

// Config configures a Poller.
type Config struct {
	// WriteRecheck is the re-evaluation interval used while write interest
	// is registered. Default: DefaultWriteRecheck.
	WriteRecheck time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type registration struct {
	src      Source
	interest Interest
}

// Poller multiplexes readiness of registered sources.
//
// Register, Modify, Unregister and Poll are meant to be called from a
// single goroutine. Wake may be called from any goroutine.
type Poller struct {
	mu      sync.Mutex
	regs    []*registration
	closed  bool
	recheck time.Duration

	wakeCh  chan struct{}
	closeCh chan struct{}
	timer   *deadline.Deadline
	log     logging.LeveledLogger
}

// New creates a new Poller.
func New(config Config) *Poller {
	p := &Poller{
		recheck: config.WriteRecheck,
		wakeCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		timer:   deadline.New(),
	}
	if p.recheck <= 0 {
		p.recheck = DefaultWriteRecheck
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("poll")
	}
	return p
}

// Register adds src with the given interest set.
func (p *Poller) Register(src Source, interest Interest) error {
	if src == nil {
		return ErrNilSource
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.find(src) >= 0 {
		p.mu.Unlock()
		return ErrAlreadyRegistered
	}
	p.regs = append(p.regs, &registration{src: src, interest: interest})
	p.mu.Unlock()

	src.Attach(p.Wake)
	if p.log != nil {
		p.log.Tracef("registered source with interest %s", interest)
	}
	return nil
}

// Modify replaces the interest set of a registered source.
func (p *Poller) Modify(src Source, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	i := p.find(src)
	if i < 0 {
		return ErrNotRegistered
	}
	if p.regs[i].interest != interest && p.log != nil {
		p.log.Tracef("interest %s -> %s", p.regs[i].interest, interest)
	}
	p.regs[i].interest = interest
	return nil
}

// Interest returns the interest set of a registered source.
func (p *Poller) Interest(src Source) (Interest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.find(src)
	if i < 0 {
		return 0, false
	}
	return p.regs[i].interest, true
}

// Unregister removes src. It is safe to call on a closed poller.
func (p *Poller) Unregister(src Source) error {
	p.mu.Lock()
	i := p.find(src)
	if i < 0 {
		p.mu.Unlock()
		return ErrNotRegistered
	}
	p.regs = append(p.regs[:i], p.regs[i+1:]...)
	p.mu.Unlock()

	src.Attach(nil)
	return nil
}

// Len returns the number of registered sources.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regs)
}

// Poll waits up to timeout for a registered source to become ready and
// returns every ready source. An empty result means the timeout elapsed.
func (p *Poller) Poll(timeout time.Duration) ([]Event, error) {
	end := time.Now().Add(timeout)
	for {
		events, writing, err := p.collect()
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return events, nil
		}

		now := time.Now()
		if !now.Before(end) {
			return nil, nil
		}
		wait := end
		if writing {
			if r := now.Add(p.recheck); r.Before(wait) {
				wait = r
			}
		}

		p.timer.Set(wait)
		select {
		case <-p.wakeCh:
		case <-p.timer.Done():
		case <-p.closeCh:
		}
		p.timer.Set(time.Time{})
	}
}

func (p *Poller) collect() ([]Event, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, ErrClosed
	}
	var events []Event
	writing := false
	for _, r := range p.regs {
		if r.interest&InterestWrite != 0 {
			writing = true
		}
		if ready := r.src.Ready() & r.interest; ready != 0 {
			events = append(events, Event{Source: r.src, Ready: ready})
		}
	}
	return events, writing, nil
}

// Wake interrupts a blocked Poll so readiness is re-evaluated.
func (p *Poller) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Close releases the poller. A blocked Poll returns ErrClosed.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	regs := p.regs
	p.regs = nil
	p.mu.Unlock()

	for _, r := range regs {
		r.src.Attach(nil)
	}
	close(p.closeCh)
	p.timer.Set(time.Time{})
	return nil
}

func (p *Poller) find(src Source) int {
	for i, r := range p.regs {
		if r.src == src {
			return i
		}
	}
	return -1
}
