// Package consumer runs a market data consumer session: it connects to a
// provider, establishes the session through login, source directory and
// dictionary download, then hands item traffic to a Handler until its run
// time expires.
//
// A Session owns every component it uses. Several sessions in one process
// are fully independent.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/feedconsumer/pkg/dictionary"
	"github.com/backkem/feedconsumer/pkg/handshake"
	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/metrics"
	"github.com/backkem/feedconsumer/pkg/ping"
	"github.com/backkem/feedconsumer/pkg/poll"
	"github.com/backkem/feedconsumer/pkg/rdm"
	"github.com/backkem/feedconsumer/pkg/transport"
)

// errRunTimeExpired ends the loops when the run time budget is spent.
var errRunTimeExpired = errors.New("consumer: run time expired")

// Summary describes a finished session.
type Summary struct {
	// Stage is the last handshake stage reached.
	Stage handshake.Stage

	// Service is the resolved target service name, if any.
	Service string

	// LocalDictionaries lists the artifacts loaded from DictionaryDir.
	LocalDictionaries []string

	// Downloaded lists the artifacts requested from the provider.
	Downloaded []string

	// NumFields and NumEnumTables describe the dictionary before unload.
	NumFields     int
	NumEnumTables int

	MessagesReceived uint64
	MessagesSent     uint64
	Delivered        uint64
	PingsSent        uint64
	PingsReceived    uint64

	// Err is the terminal error, nil after a graceful close.
	Err error
}

// Session is one consumer session. It is not safe for concurrent use;
// Run drives everything on the calling goroutine.
type Session struct {
	cfg     Config
	log     logging.LeveledLogger
	metrics *metrics.Collector
	handler Handler

	poller *poll.Poller
	ch     *transport.Channel
	queue  *transport.FlushQueue
	pinger *ping.Monitor
	hs     *handshake.Orchestrator
	dict   *dictionary.Dictionary

	registered poll.Source
	interest   poll.Interest

	local     []string
	summary   Summary
	pingsSent uint64
	pingsRead uint64

	ran      bool
	tornDown bool
}

// NewSession validates config and creates a session.
func NewSession(config Config) (*Session, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     config,
		metrics: config.Metrics,
		handler: config.Handler,
		dict:    dictionary.New(),
		poller:  poll.New(poll.Config{LoggerFactory: config.LoggerFactory}),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("consumer")
	}
	if s.handler == nil {
		s.handler = logHandler{log: s.log}
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Summary returns the outcome of Run. It is complete once Run returned.
func (s *Session) Summary() Summary {
	return s.summary
}

// Run connects, establishes the session and serves it until the run time
// expires or ctx is cancelled. It returns nil when the run time expired,
// ctx.Err() after cancellation, and the terminal error otherwise.
func (s *Session) Run(ctx context.Context) error {
	if s.ran {
		return ErrAlreadyRunning
	}
	s.ran = true
	defer s.teardown()

	deadline := time.Now().Add(s.cfg.RunTime)
	s.loadLocalDictionaries()

	if err := s.connect(); err != nil {
		return s.terminate(err)
	}
	if err := s.initialize(ctx, deadline); err != nil {
		return s.terminate(err)
	}
	if err := s.startHandshake(); err != nil {
		return s.terminate(err)
	}
	return s.terminate(s.serve(ctx, deadline))
}

// loadLocalDictionaries loads whichever artifacts DictionaryDir holds. A
// missing or unreadable file is not an error: that artifact is downloaded.
func (s *Session) loadLocalDictionaries() {
	for _, name := range []string{rdm.FieldDictionaryName, rdm.EnumDictionaryName} {
		if err := s.dict.LoadArtifact(s.cfg.DictionaryDir, name); err != nil {
			if s.log != nil {
				s.log.Infof("%s not available locally, will request it: %v", name, err)
			}
			continue
		}
		s.local = append(s.local, name)
		if s.log != nil {
			s.log.Infof("loaded %s from %s", name, s.cfg.DictionaryDir)
		}
	}
}

func (s *Session) connect() error {
	tlsConfig, err := s.cfg.clientTLS()
	if err != nil {
		return err
	}
	ch, err := transport.Connect(s.cfg.connectConfig(tlsConfig))
	if err != nil {
		return err
	}
	s.ch = ch
	return s.register(ch.Descriptor(), poll.InterestConnect|poll.InterestRead)
}

func (s *Session) register(src poll.Source, interest poll.Interest) error {
	if err := s.poller.Register(src, interest); err != nil {
		return err
	}
	s.registered = src
	s.interest = interest
	return nil
}

// setInterest updates the registered interest if it changed.
func (s *Session) setInterest(interest poll.Interest) error {
	if interest == s.interest {
		return nil
	}
	if err := s.poller.Modify(s.registered, interest); err != nil {
		return err
	}
	s.interest = interest
	return nil
}

// initialize drives the channel from connecting to active.
func (s *Session) initialize(ctx context.Context, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return errRunTimeExpired
		}

		events, err := s.poller.Poll(s.cfg.PollTimeout)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Ready.Has(poll.InterestWrite) {
				if _, err := s.ch.Flush(); err != nil {
					return err
				}
			}
		}

		old := s.ch.Descriptor()
		res, err := s.ch.Init()
		switch res {
		case transport.InitActive:
			if s.log != nil {
				s.log.Infof("channel active, ping timeout %s, fragment size %d",
					s.ch.PingTimeout(), s.ch.MaxFragmentSize())
			}
			return s.setInterest(poll.InterestRead)
		case transport.InitDescriptorChanged:
			if err := s.poller.Unregister(old); err != nil {
				return err
			}
			if err := s.register(s.ch.Descriptor(), poll.InterestConnect|poll.InterestRead); err != nil {
				return err
			}
			continue
		case transport.InitFailed:
			return err
		}

		if err := s.ch.CheckInitTimeout(len(events) == 0, time.Now()); err != nil {
			return err
		}
		interest := poll.InterestConnect | poll.InterestRead
		if s.ch.Pending() {
			interest |= poll.InterestWrite
		}
		if err := s.setInterest(interest); err != nil {
			return err
		}
	}
}

// startHandshake sets up the active-session components and sends the login.
func (s *Session) startHandshake() error {
	s.queue = transport.NewFlushQueue(transport.FlushQueueConfig{
		Writer:        s.ch,
		LoggerFactory: s.cfg.LoggerFactory,
	})

	s.pinger = ping.New(ping.Config{
		Sender:          s.ch,
		MinSendInterval: s.cfg.PollTimeout,
		LoggerFactory:   s.cfg.LoggerFactory,
	})
	if err := s.pinger.Start(s.ch.PingTimeout(), time.Now()); err != nil {
		return err
	}

	hs, err := handshake.New(handshake.Config{
		ServiceName:     s.cfg.ServiceName,
		UserName:        s.cfg.UserName,
		ApplicationName: s.cfg.ApplicationName,
		Position:        transport.HostPosition(s.ch.LocalAddr()),
		Dictionary:      s.dict,
		Items:           s.cfg.Items,
		LoggerFactory:   s.cfg.LoggerFactory,
	})
	if err != nil {
		return err
	}
	s.hs = hs
	s.metrics.SetHandshakeStage(int(hs.Stage()))

	login, err := hs.Start()
	if err != nil {
		return err
	}
	return s.submitAll(login)
}

// serve is the main loop.
func (s *Session) serve(ctx context.Context, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		if !now.Before(deadline) {
			return errRunTimeExpired
		}

		timeout := s.cfg.PollTimeout
		if d := s.pinger.NextDeadline().Sub(now); d < timeout {
			timeout = max(d, 0)
		}
		if d := deadline.Sub(now); d < timeout {
			timeout = d
		}

		events, err := s.poller.Poll(timeout)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Ready.Has(poll.InterestRead) {
				if err := s.readAll(); err != nil {
					return err
				}
			}
			if ev.Ready.Has(poll.InterestWrite) {
				if err := s.queue.OnWritable(); err != nil {
					return err
				}
			}
		}
		if err := s.pinger.Tick(time.Now()); err != nil {
			return err
		}
		if err := s.updateWriteInterest(); err != nil {
			return err
		}
		s.recordPings()
	}
}

// readAll drains every inbound unit currently available.
func (s *Session) readAll() error {
	for {
		data, kind, err := s.ch.Read()
		if err != nil {
			return err
		}
		switch kind {
		case transport.ReadWouldBlock:
			return nil
		case transport.ReadPing:
			s.pinger.Received()
		case transport.ReadData:
			s.pinger.Received()
			m, err := message.Decode(data)
			if err != nil {
				return err
			}
			s.summary.MessagesReceived++
			s.metrics.MessageReceived(m.Domain.String())
			if err := s.dispatch(m); err != nil {
				return err
			}
		}
	}
}

// dispatch routes a decoded message through the handshake.
func (s *Session) dispatch(m *message.Msg) error {
	if s.log != nil {
		s.log.Tracef("<- %s", m)
	}
	res, err := s.hs.Handle(m)
	s.metrics.SetHandshakeStage(int(res.Stage))
	if err != nil {
		return err
	}
	if err := s.submitAll(res.Outbound); err != nil {
		return err
	}
	if res.Deliver != nil {
		s.summary.Delivered++
		s.handler.OnMessage(res.Deliver)
	}
	return nil
}

func (s *Session) submitAll(msgs []*message.Msg) error {
	for _, m := range msgs {
		if err := s.submit(m); err != nil {
			return err
		}
	}
	return nil
}

// submit encodes m and hands it to the flush queue.
func (s *Session) submit(m *message.Msg) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if _, err := s.queue.Submit(data); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Tracef("-> %s", m)
	}
	s.summary.MessagesSent++
	s.metrics.MessageSent(m.Domain.String())
	return s.updateWriteInterest()
}

// updateWriteInterest keeps write interest exactly while output is queued.
func (s *Session) updateWriteInterest() error {
	pending := s.queue.Pending()
	s.metrics.SetFlushPending(pending)
	interest := poll.InterestRead
	if pending {
		interest |= poll.InterestWrite
	}
	return s.setInterest(interest)
}

func (s *Session) recordPings() {
	st := s.ch.Stats()
	s.metrics.PingsSent(st.PingsSent - s.pingsSent)
	s.metrics.PingsReceived(st.PingsRead - s.pingsRead)
	s.pingsSent, s.pingsRead = st.PingsSent, st.PingsRead
}

// terminate turns the loop outcome into Run's result. On expiry or
// cancellation the login stream is closed and queued output drained first.
func (s *Session) terminate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errRunTimeExpired):
		if s.log != nil {
			s.log.Info("Consumer run-time expired")
		}
		s.closeGracefully()
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.closeGracefully()
		s.summary.Err = err
		return err
	}

	if s.log != nil {
		s.log.Errorf("session failed: %v", err)
	}
	s.metrics.SessionError(errorKind(err))
	s.summary.Err = err
	return err
}

// closeGracefully closes the login stream and drains queued output for at
// most DrainTimeout.
func (s *Session) closeGracefully() {
	if s.hs == nil || s.ch == nil || s.ch.State() != transport.StateActive {
		return
	}
	if err := s.submit(s.hs.CloseLogin()); err != nil {
		if s.log != nil {
			s.log.Warnf("close login: %v", err)
		}
		return
	}

	end := time.Now().Add(s.cfg.DrainTimeout)
	for s.queue.Pending() && time.Now().Before(end) {
		if err := s.updateWriteInterest(); err != nil {
			return
		}
		if _, err := s.poller.Poll(time.Until(end)); err != nil {
			return
		}
		if err := s.queue.OnWritable(); err != nil {
			if s.log != nil {
				s.log.Warnf("drain: %v", err)
			}
			return
		}
	}
	if s.queue.Pending() && s.log != nil {
		s.log.Warn("output still queued after drain timeout")
	}
}

// teardown is the single exit path: it releases every resource the session
// acquired, whatever state Run reached.
func (s *Session) teardown() {
	if s.tornDown {
		return
	}
	s.tornDown = true

	if s.registered != nil {
		_ = s.poller.Unregister(s.registered)
		s.registered = nil
	}
	if s.ch != nil {
		s.recordPings()
		st := s.ch.Stats()
		s.summary.PingsSent = st.PingsSent
		s.summary.PingsReceived = st.PingsRead
		if err := s.ch.Close(); err != nil && s.log != nil {
			s.log.Warnf("close channel: %v", err)
		}
	}
	_ = s.poller.Close()

	if s.hs != nil {
		s.summary.Stage = s.hs.Stage()
		s.summary.Downloaded = append([]string(nil), s.hs.Requested()...)
		if t := s.hs.Target(); t != nil {
			s.summary.Service = t.Name
		}
	}
	s.summary.LocalDictionaries = s.local
	s.summary.NumFields = s.dict.NumFields()
	s.summary.NumEnumTables = s.dict.NumEnumTables()
	s.dict.Unload()
	s.metrics.SetFlushPending(false)

	if s.log != nil {
		s.log.Debugf("session closed: stage=%s received=%d sent=%d",
			s.summary.Stage, s.summary.MessagesReceived, s.summary.MessagesSent)
	}
}

// errorKind labels a terminal error for metrics.
func errorKind(err error) string {
	kinds := []struct {
		target error
		kind   string
	}{
		{transport.ErrHandshakeTimeout, "handshake_timeout"},
		{transport.ErrConnect, "connect"},
		{transport.ErrBufferExhausted, "buffer_exhausted"},
		{transport.ErrFlush, "flush"},
		{transport.ErrConnectionLost, "connection_lost"},
		{message.ErrProtocolDecode, "decode"},
		{handshake.ErrLoginRejected, "login_rejected"},
		{handshake.ErrServiceUnavailable, "service_unavailable"},
		{handshake.ErrCapabilityUnsupported, "capability_unsupported"},
		{handshake.ErrDictionaryLoad, "dictionary"},
		{ping.ErrLivenessTimeout, "liveness"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return "other"
}

// String returns a compact summary for logging.
func (s Summary) String() string {
	return fmt.Sprintf("stage=%s service=%q fields=%d enums=%d received=%d delivered=%d",
		s.Stage, s.Service, s.NumFields, s.NumEnumTables, s.MessagesReceived, s.Delivered)
}
