// Package provider implements a minimal market data provider. It accepts
// consumer channels over TCP, optionally encrypted, and answers the session
// establishment exchange: login, source directory, dictionaries and item
// requests.
//
// It is meant for tests and local experiments, not for production feeds.
package provider

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/feedconsumer/pkg/dictionary"
	"github.com/backkem/feedconsumer/pkg/discovery"
	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/rdm"
)

// Config configures a Server.
type Config struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., "127.0.0.1:14002").
	// Ignored if Listener is provided. Defaults to an ephemeral local port.
	ListenAddr string

	// TLSConfig, when set, makes the server accept encrypted channels only.
	TLSConfig *tls.Config

	// Services are announced in directory responses. Required.
	Services []rdm.Service

	// Fields and Enums are served on dictionary requests.
	// If both are nil, SampleFields and SampleEnums are used.
	Fields []dictionary.FieldDef
	Enums  []dictionary.EnumTable

	// DictionaryVersion is carried in the first part of each dictionary.
	DictionaryVersion string

	// DictionaryParts is the number of refresh parts each dictionary is
	// split into. Values below 1 send a single part.
	DictionaryParts int

	// PingTimeout caps the ping timeout negotiated in seconds.
	// If zero, the consumer's requested value is accepted.
	PingTimeout uint32

	// MaxFragmentSize is announced in the connect ack.
	// If zero, message.DefaultMaxFragmentSize is used.
	MaxFragmentSize uint32

	// RejectConnect, when set, refuses every channel with this reason.
	RejectConnect string

	// RejectLogin, when set, closes every login stream with this reason.
	RejectLogin string

	// Updates is the number of update messages sent after each item refresh.
	Updates int

	// Silent suppresses ping replies so consumers hit their liveness timeout.
	Silent bool

	// Advertiser, when set, publishes the server under Instance once it
	// starts listening.
	Advertiser *discovery.Advertiser

	// Instance is the DNS-SD instance name used with Advertiser.
	Instance string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server is a provider accepting consumer channels.
type Server struct {
	config   Config
	listener net.Listener
	closeCh  chan struct{}
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	fieldParts [][]byte
	enumParts  [][]byte

	connsMu sync.Mutex
	conns   map[string]*conn

	recMu     sync.Mutex
	received  []*message.Msg
	connects  []*message.ConnectRequest
	accepted  int
	pingsSeen int

	mu      sync.RWMutex
	started bool
	closed  bool
}

// conn is one accepted consumer channel.
type conn struct {
	id     string
	nc     net.Conn
	reader *message.StreamReader
	writer *message.StreamWriter
	mu     sync.Mutex // Protects writes

	maxFrag int
	partial []byte
}

// NewServer creates a server. The listener is bound immediately so Addr is
// valid before Start.
func NewServer(config Config) (*Server, error) {
	if len(config.Services) == 0 {
		return nil, ErrNoServices
	}
	if config.Fields == nil && config.Enums == nil {
		config.Fields = SampleFields()
		config.Enums = SampleEnums()
	}
	if config.MaxFragmentSize == 0 {
		config.MaxFragmentSize = message.DefaultMaxFragmentSize
	}
	if config.DictionaryVersion == "" {
		config.DictionaryVersion = "4.20.29"
	}

	s := &Server{
		config:   config,
		listener: config.Listener,
		closeCh:  make(chan struct{}),
		conns:    make(map[string]*conn),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("provider")
	}

	var err error
	s.fieldParts, err = dictionary.EncodeFieldParts(config.Fields, config.DictionaryVersion, perPart(len(config.Fields), config.DictionaryParts))
	if err != nil {
		return nil, err
	}
	s.enumParts, err = dictionary.EncodeEnumParts(config.Enums, config.DictionaryVersion, perPart(len(config.Enums), config.DictionaryParts))
	if err != nil {
		return nil, err
	}

	if s.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = "127.0.0.1:0"
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		s.listener = l
	}
	return s, nil
}

// perPart returns how many entries go in each of parts parts.
func perPart(n, parts int) int {
	if parts <= 1 || n == 0 {
		return 0
	}
	return (n + parts - 1) / parts
}

// Start begins accepting channels.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("provider listening on %s (tls=%v)", s.listener.Addr(), s.config.TLSConfig != nil)
	}

	if s.config.Advertiser != nil && s.config.Instance != "" {
		names := make([]string, 0, len(s.config.Services))
		for i := range s.config.Services {
			names = append(names, s.config.Services[i].Name)
		}
		txt := discovery.ProviderTXT{
			Vendor:          "feedconsumer",
			Services:        names,
			TLS:             s.config.TLSConfig != nil,
			ProtocolVersion: message.ProtocolVersion,
		}
		port, err := strconv.Atoi(s.Port())
		if err != nil {
			return err
		}
		if err := s.config.Advertiser.Advertise(s.config.Instance, port, txt); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and all channels.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping provider")
	}

	close(s.closeCh)
	s.listener.Close()

	if started && s.config.Advertiser != nil && s.config.Instance != "" {
		_ = s.config.Advertiser.Stop(s.config.Instance)
	}

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.nc.Close()
	}
	s.conns = make(map[string]*conn)
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the listening port as a string.
func (s *Server) Port() string {
	if a, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return strconv.Itoa(a.Port)
	}
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	return port
}

// Received returns every message decoded so far, in arrival order.
func (s *Server) Received() []*message.Msg {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	out := make([]*message.Msg, len(s.received))
	copy(out, s.received)
	return out
}

// ConnectRequests returns the connect requests seen so far.
func (s *Server) ConnectRequests() []*message.ConnectRequest {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	out := make([]*message.ConnectRequest, len(s.connects))
	copy(out, s.connects)
	return out
}

// Accepted returns the number of channels accepted.
func (s *Server) Accepted() int {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return s.accepted
}

// PingsReceived returns the number of consumer pings seen.
func (s *Server) PingsReceived() int {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return s.pingsSeen
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if s.config.TLSConfig != nil {
			nc = tls.Server(nc, s.config.TLSConfig)
		}

		s.wg.Add(1)
		go s.handleConn(nc)
	}
}

// handleConn serves a single consumer channel.
func (s *Server) handleConn(nc net.Conn) {
	defer s.wg.Done()

	c := &conn{
		id:     uuid.NewString(),
		nc:     nc,
		reader: message.NewStreamReader(nc),
		writer: message.NewStreamWriter(nc),
	}

	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()

	defer func() {
		nc.Close()
		s.connsMu.Lock()
		delete(s.conns, c.id)
		s.connsMu.Unlock()
	}()

	if !s.accept(c) {
		return
	}

	for {
		f, err := c.reader.ReadFrame()
		if err != nil {
			if s.log != nil && !errors.Is(err, io.EOF) && !s.isClosed() {
				s.log.Debugf("[%s] read: %v", c.id, err)
			}
			return
		}
		if err := s.handleFrame(c, f); err != nil {
			if s.log != nil && !s.isClosed() {
				s.log.Warnf("[%s] %v", c.id, err)
			}
			return
		}
	}
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// accept runs the connect exchange and reports whether the channel is up.
func (s *Server) accept(c *conn) bool {
	f, err := c.reader.ReadFrame()
	if err != nil {
		if s.log != nil && !s.isClosed() {
			s.log.Debugf("[%s] connect: %v", c.id, err)
		}
		return false
	}
	if f.Type != message.FrameConnectRequest {
		if s.log != nil {
			s.log.Warnf("[%s] expected connect request, got %s", c.id, f.Type)
		}
		return false
	}
	req, err := message.DecodeConnectRequest(f.Body)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("[%s] connect request: %v", c.id, err)
		}
		return false
	}

	s.recMu.Lock()
	s.connects = append(s.connects, req)
	s.recMu.Unlock()

	if s.config.RejectConnect != "" {
		nak := &message.ConnectNak{Reason: s.config.RejectConnect}
		if nf, err := nak.Frame(); err == nil {
			c.writeFrame(nf)
		}
		return false
	}

	timeout := req.PingTimeout
	if s.config.PingTimeout != 0 && (timeout == 0 || s.config.PingTimeout < timeout) {
		timeout = s.config.PingTimeout
	}
	ack := &message.ConnectAck{
		Version:         req.Version,
		PingTimeout:     timeout,
		MaxFragmentSize: s.config.MaxFragmentSize,
	}
	af, err := ack.Frame()
	if err != nil {
		return false
	}
	if err := c.writeFrame(af); err != nil {
		return false
	}
	c.maxFrag = int(s.config.MaxFragmentSize)

	s.recMu.Lock()
	s.accepted++
	s.recMu.Unlock()

	if s.log != nil {
		s.log.Infof("[%s] accepted %q ping=%ds", c.id, req.ClientName, timeout)
	}
	return true
}

// handleFrame processes one frame after the connect exchange.
func (s *Server) handleFrame(c *conn, f *message.Frame) error {
	switch f.Type {
	case message.FramePing:
		s.recMu.Lock()
		s.pingsSeen++
		s.recMu.Unlock()
		if s.config.Silent {
			return nil
		}
		return c.writeFrame(&message.Frame{Type: message.FramePing})
	case message.FrameData:
		c.partial = append(c.partial, f.Body...)
		if f.Flags&message.FrameFlagMore != 0 {
			return nil
		}
		data := c.partial
		c.partial = nil
		m, err := message.Decode(data)
		if err != nil {
			return err
		}
		return s.handleMsg(c, m)
	default:
		return message.ErrInvalidFrameType
	}
}

// handleMsg answers one consumer message.
func (s *Server) handleMsg(c *conn, m *message.Msg) error {
	s.recMu.Lock()
	s.received = append(s.received, m)
	s.recMu.Unlock()

	if s.log != nil {
		s.log.Debugf("[%s] <- %s", c.id, m)
	}
	if m.Class != message.ClassRequest {
		return nil
	}

	switch m.Domain {
	case message.DomainLogin:
		return s.handleLogin(c, m)
	case message.DomainSource:
		return s.handleDirectory(c, m)
	case message.DomainDictionary:
		return s.handleDictionary(c, m)
	default:
		return s.handleItem(c, m)
	}
}

func (s *Server) handleLogin(c *conn, m *message.Msg) error {
	if s.config.RejectLogin != "" {
		return c.send(rdm.StatusMsg(message.DomainLogin, m.StreamID, message.State{
			Stream: message.StreamStateClosed,
			Data:   message.DataStateSuspect,
			Text:   s.config.RejectLogin,
		}))
	}
	resp, err := rdm.LoginRefresh(m, rdm.LoginAttrib{
		ApplicationID:   rdm.DefaultApplicationID,
		ApplicationName: "provider",
		Role:            rdm.RoleProvider,
		SingleOpen:      true,
	})
	if err != nil {
		return err
	}
	return c.send(resp)
}

func (s *Server) handleDirectory(c *conn, m *message.Msg) error {
	filter := m.Key.Filter
	if filter == 0 {
		filter = rdm.DefaultDirectoryFilter
	}
	entries := make([]rdm.ServiceEntry, 0, len(s.config.Services))
	for i := range s.config.Services {
		entries = append(entries, s.config.Services[i].Entry(filter))
	}
	payload, err := rdm.EncodeDirectory(entries)
	if err != nil {
		return err
	}
	return c.send(&message.Msg{
		Class:    message.ClassRefresh,
		Domain:   message.DomainSource,
		StreamID: m.StreamID,
		Flags:    message.FlagSolicited | message.FlagRefreshComplete,
		State:    message.State{Stream: message.StreamStateOpen, Data: message.DataStateOk},
		HasState: true,
		Payload:  payload,
	})
}

func (s *Server) handleDictionary(c *conn, m *message.Msg) error {
	var parts [][]byte
	switch m.Key.Name {
	case rdm.FieldDictionaryName:
		parts = s.fieldParts
	case rdm.EnumDictionaryName:
		parts = s.enumParts
	default:
		return c.send(rdm.StatusMsg(message.DomainDictionary, m.StreamID, message.State{
			Stream: message.StreamStateClosed,
			Data:   message.DataStateSuspect,
			Text:   "unknown dictionary " + m.Key.Name,
		}))
	}

	for i, p := range parts {
		resp := &message.Msg{
			Class:    message.ClassRefresh,
			Domain:   message.DomainDictionary,
			StreamID: m.StreamID,
			Flags:    message.FlagSolicited,
			State:    message.State{Stream: message.StreamStateOpen, Data: message.DataStateOk},
			HasState: true,
			Payload:  p,
		}
		if i == 0 {
			resp.Key = message.Key{Name: m.Key.Name, ServiceID: m.Key.ServiceID, HasServID: true}
			resp.HasKey = true
		}
		if i == len(parts)-1 {
			resp.Flags |= message.FlagRefreshComplete
		}
		if err := c.send(resp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleItem(c *conn, m *message.Msg) error {
	known := false
	for i := range s.config.Services {
		svc := &s.config.Services[i]
		if svc.ID == m.Key.ServiceID && svc.HasCapability(m.Domain) {
			known = true
			break
		}
	}
	if !known {
		return c.send(rdm.StatusMsg(m.Domain, m.StreamID, message.State{
			Stream: message.StreamStateClosedRecover,
			Data:   message.DataStateSuspect,
			Text:   "service does not carry " + m.Domain.String(),
		}))
	}

	key := message.Key{Name: m.Key.Name, NameType: m.Key.NameType, ServiceID: m.Key.ServiceID, HasServID: true}
	if err := c.send(&message.Msg{
		Class:    message.ClassRefresh,
		Domain:   m.Domain,
		StreamID: m.StreamID,
		Flags:    message.FlagSolicited | message.FlagRefreshComplete | message.FlagClearCache,
		State:    message.State{Stream: message.StreamStateOpen, Data: message.DataStateOk, Text: "All is well"},
		HasState: true,
		Key:      key,
		HasKey:   true,
	}); err != nil {
		return err
	}
	for i := 0; i < s.config.Updates; i++ {
		if err := c.send(&message.Msg{
			Class:    message.ClassUpdate,
			Domain:   m.Domain,
			StreamID: m.StreamID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// send encodes m and writes it as one or more data frames.
func (c *conn) send(m *message.Msg) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range message.Fragment(data, c.maxFrag) {
		if err := c.writer.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) writeFrame(f *message.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.WriteFrame(f)
}
