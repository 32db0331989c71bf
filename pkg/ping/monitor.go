// Package ping tracks heartbeat deadlines for an active channel.
//
// Sending and receiving are tracked independently. A heartbeat goes out
// every third of the negotiated timeout; the provider must have sent
// something, data or heartbeat, within each full timeout.
package ping

import (
	"fmt"
	"time"

	"github.com/pion/logging"
)

// Sender emits one heartbeat. A transport that already has output pending
// may flush instead; any outbound bytes count as liveness.
type Sender interface {
	Ping() error
}

// Config configures a Monitor.
type Config struct {
	// Sender sends heartbeats. Required.
	Sender Sender

	// MinSendInterval is the shortest heartbeat interval. Timeouts under
	// three seconds give a zero send interval, which is raised to this
	// value; callers pass their poll tick. Zero means a heartbeat on every
	// Tick.
	MinSendInterval time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Deadlines is a snapshot of the monitor's absolute deadlines.
type Deadlines struct {
	NextSend    time.Time
	NextReceive time.Time
	Received    bool
}

// Stats counts heartbeat activity.
type Stats struct {
	// Sent is the number of heartbeats handed to the Sender.
	Sent uint64
	// Received is the number of inbound units marked since Start.
	Received uint64
	// Checks is the number of receive deadlines that passed with traffic.
	Checks uint64
}

// Monitor holds the ping deadlines of one session. It is not safe for
// concurrent use.
type Monitor struct {
	sender  Sender
	minSend time.Duration
	log     logging.LeveledLogger

	started     bool
	sendEvery   time.Duration
	recvEvery   time.Duration
	nextSend    time.Time
	nextReceive time.Time
	received    bool

	stats Stats
}

// New creates a Monitor. It does nothing until Start.
func New(config Config) *Monitor {
	m := &Monitor{sender: config.Sender, minSend: config.MinSendInterval}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("ping")
	}
	return m
}

// Intervals derives the send and receive intervals from a negotiated
// timeout. The send interval is a third of the timeout rounded down to
// whole seconds, so it is zero below three seconds.
func Intervals(timeout time.Duration) (send, receive time.Duration) {
	secs := int64(timeout / time.Second)
	return time.Duration(secs/3) * time.Second, timeout
}

// Start sets both deadlines from the negotiated timeout. It is called once
// when the channel becomes active.
func (m *Monitor) Start(timeout time.Duration, now time.Time) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}
	m.sendEvery, m.recvEvery = Intervals(timeout)
	m.sendEvery = max(m.sendEvery, m.minSend)
	m.nextSend = now.Add(m.sendEvery)
	m.nextReceive = now.Add(m.recvEvery)
	m.received = false
	m.started = true
	if m.log != nil {
		m.log.Debugf("ping started: send every %s, expect traffic every %s", m.sendEvery, m.recvEvery)
	}
	return nil
}

// Received marks that an inbound unit arrived.
func (m *Monitor) Received() {
	m.received = true
	m.stats.Received++
}

// Tick sends a heartbeat when the send deadline has passed and evaluates
// the receive deadline. A missed receive deadline is ErrLivenessTimeout.
func (m *Monitor) Tick(now time.Time) error {
	if !m.started {
		return ErrNotStarted
	}

	if !now.Before(m.nextSend) {
		if err := m.sender.Ping(); err != nil {
			return fmt.Errorf("ping: send heartbeat: %w", err)
		}
		m.stats.Sent++
		m.nextSend = now.Add(m.sendEvery)
		if m.log != nil {
			m.log.Trace("heartbeat sent")
		}
	}

	if !now.Before(m.nextReceive) {
		if !m.received {
			if m.log != nil {
				m.log.Errorf("no traffic from provider for %s", m.recvEvery)
			}
			return fmt.Errorf("%w (%s)", ErrLivenessTimeout, m.recvEvery)
		}
		m.received = false
		m.stats.Checks++
		m.nextReceive = now.Add(m.recvEvery)
		if m.log != nil {
			m.log.Trace("receive deadline met")
		}
	}
	return nil
}

// Deadlines returns the current deadlines.
func (m *Monitor) Deadlines() Deadlines {
	return Deadlines{NextSend: m.nextSend, NextReceive: m.nextReceive, Received: m.received}
}

// NextDeadline returns the earlier of the two deadlines, so a caller can
// bound its poll timeout. It is the zero time before Start.
func (m *Monitor) NextDeadline() time.Time {
	if !m.started {
		return time.Time{}
	}
	if m.nextSend.Before(m.nextReceive) {
		return m.nextSend
	}
	return m.nextReceive
}

// Stats returns the heartbeat counters.
func (m *Monitor) Stats() Stats {
	return m.stats
}
