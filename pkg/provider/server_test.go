package provider

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"

	"github.com/backkem/feedconsumer/pkg/dictionary"
	"github.com/backkem/feedconsumer/pkg/discovery"
	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/rdm"
)

// testClient speaks the channel protocol directly over TCP.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *message.StreamReader
	w    *message.StreamWriter
}

func dialServer(t *testing.T, s *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: message.NewStreamReader(conn), w: message.NewStreamWriter(conn)}
}

func (c *testClient) connect(pingTimeout uint32) *message.Frame {
	c.t.Helper()
	req := &message.ConnectRequest{Version: message.ProtocolVersion, PingTimeout: pingTimeout, ClientName: "test"}
	f, err := req.Frame()
	if err != nil {
		c.t.Fatalf("Frame() error = %v", err)
	}
	if err := c.w.WriteFrame(f); err != nil {
		c.t.Fatalf("WriteFrame() error = %v", err)
	}
	return c.readFrame()
}

func (c *testClient) readFrame() *message.Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := c.r.ReadFrame()
	if err != nil {
		c.t.Fatalf("ReadFrame() error = %v", err)
	}
	return f
}

func (c *testClient) send(m *message.Msg) {
	c.t.Helper()
	data, err := m.Encode()
	if err != nil {
		c.t.Fatalf("Encode() error = %v", err)
	}
	if err := c.w.WriteFrame(&message.Frame{Type: message.FrameData, Body: data}); err != nil {
		c.t.Fatalf("WriteFrame() error = %v", err)
	}
}

func (c *testClient) recv() *message.Msg {
	c.t.Helper()
	var data []byte
	for {
		f := c.readFrame()
		if f.Type != message.FrameData {
			c.t.Fatalf("frame type = %s, want Data", f.Type)
		}
		data = append(data, f.Body...)
		if f.Flags&message.FrameFlagMore == 0 {
			break
		}
	}
	m, err := message.Decode(data)
	if err != nil {
		c.t.Fatalf("Decode() error = %v", err)
	}
	return m
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Services == nil {
		cfg.Services = []rdm.Service{NewService(1, "DIRECT_FEED")}
	}
	cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestNewServer_NoServices(t *testing.T) {
	_, err := NewServer(Config{})
	if !errors.Is(err, ErrNoServices) {
		t.Errorf("NewServer() error = %v, want %v", err, ErrNoServices)
	}
}

func TestServer_StartStop(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	s, err := NewServer(Config{Services: []rdm.Service{NewService(1, "A")}})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if s.Port() == "" || s.Port() == "0" {
		t.Errorf("Port() = %q", s.Port())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Stop() error = %v, want %v", err, ErrClosed)
	}
	if err := s.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Stop error = %v, want %v", err, ErrClosed)
	}
}

func TestServer_Exchange(t *testing.T) {
	s := newTestServer(t, Config{PingTimeout: 30, DictionaryParts: 3, Updates: 2})
	c := dialServer(t, s)

	f := c.connect(60)
	if f.Type != message.FrameConnectAck {
		t.Fatalf("connect reply = %s, want ConnectAck", f.Type)
	}
	ack, err := message.DecodeConnectAck(f.Body)
	if err != nil {
		t.Fatalf("DecodeConnectAck() error = %v", err)
	}
	if ack.PingTimeout != 30 {
		t.Errorf("PingTimeout = %d, want 30", ack.PingTimeout)
	}
	if ack.MaxFragmentSize != message.DefaultMaxFragmentSize {
		t.Errorf("MaxFragmentSize = %d, want %d", ack.MaxFragmentSize, message.DefaultMaxFragmentSize)
	}

	// Login
	login := &rdm.LoginRequest{UserName: "user"}
	lm, err := login.Msg()
	if err != nil {
		t.Fatalf("Msg() error = %v", err)
	}
	c.send(lm)
	resp := c.recv()
	if resp.Class != message.ClassRefresh || !resp.State.IsOpenOk() {
		t.Fatalf("login response = %s %s", resp, resp.State)
	}

	// Directory
	c.send(rdm.DirectoryRequest(0, rdm.DefaultDirectoryFilter))
	resp = c.recv()
	dir, err := rdm.DecodeDirectory(resp.Payload, rdm.DefaultLimits())
	if err != nil {
		t.Fatalf("DecodeDirectory() error = %v", err)
	}
	if len(dir.Entries) != 1 || dir.Entries[0].Info.Name != "DIRECT_FEED" {
		t.Fatalf("directory = %+v", dir.Entries)
	}
	if !resp.Flags.Has(message.FlagRefreshComplete) {
		t.Error("directory refresh not complete")
	}

	// Field dictionary in three parts
	dict := dictionary.New()
	re := dictionary.NewReassembler(dictionary.ReassemblerConfig{Dictionary: dict})
	re.Track(message.StreamFieldDictionary, rdm.FieldDictionaryName, dictionary.TypeFieldDefinitions)
	c.send(rdm.DictionaryRequest(message.StreamFieldDictionary, rdm.FieldDictionaryName, 1, rdm.VerbosityVerbose))
	for i := 0; i < 3; i++ {
		resp = c.recv()
		final := resp.Flags.Has(message.FlagRefreshComplete)
		if final != (i == 2) {
			t.Fatalf("part %d RefreshComplete = %v", i, final)
		}
		progress, err := re.Consume(resp.StreamID, dictionary.Fragment{Payload: resp.Payload, Final: final})
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if final && progress != dictionary.Complete {
			t.Errorf("progress = %v, want Complete", progress)
		}
	}
	if dict.NumFields() != len(SampleFields()) {
		t.Errorf("NumFields() = %d, want %d", dict.NumFields(), len(SampleFields()))
	}

	// Ping echo
	if err := c.w.WriteFrame(&message.Frame{Type: message.FramePing}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if f := c.readFrame(); f.Type != message.FramePing {
		t.Fatalf("ping reply = %s, want Ping", f.Type)
	}

	// Item refresh followed by updates
	c.send(rdm.ItemRequest(message.DomainMarketPrice, message.StreamFirstItem, "TRI.N", 1))
	resp = c.recv()
	if resp.Class != message.ClassRefresh || resp.Key.Name != "TRI.N" {
		t.Fatalf("item response = %s key=%q", resp, resp.Key.Name)
	}
	for i := 0; i < 2; i++ {
		if resp = c.recv(); resp.Class != message.ClassUpdate {
			t.Errorf("update %d class = %s", i, resp.Class)
		}
	}

	if s.Accepted() != 1 {
		t.Errorf("Accepted() = %d, want 1", s.Accepted())
	}
	if s.PingsReceived() != 1 {
		t.Errorf("PingsReceived() = %d, want 1", s.PingsReceived())
	}
	if got := len(s.Received()); got != 4 {
		t.Errorf("len(Received()) = %d, want 4", got)
	}
	if reqs := s.ConnectRequests(); len(reqs) != 1 || reqs[0].ClientName != "test" {
		t.Errorf("ConnectRequests() = %+v", reqs)
	}
}

func TestServer_RejectConnect(t *testing.T) {
	s := newTestServer(t, Config{RejectConnect: "go away"})
	c := dialServer(t, s)

	f := c.connect(60)
	if f.Type != message.FrameConnectNak {
		t.Fatalf("connect reply = %s, want ConnectNak", f.Type)
	}
	nak, err := message.DecodeConnectNak(f.Body)
	if err != nil {
		t.Fatalf("DecodeConnectNak() error = %v", err)
	}
	if nak.Reason != "go away" {
		t.Errorf("Reason = %q, want %q", nak.Reason, "go away")
	}
}

func TestServer_RejectLogin(t *testing.T) {
	s := newTestServer(t, Config{RejectLogin: "not entitled"})
	c := dialServer(t, s)
	c.connect(60)

	login := &rdm.LoginRequest{UserName: "user"}
	lm, err := login.Msg()
	if err != nil {
		t.Fatalf("Msg() error = %v", err)
	}
	c.send(lm)
	resp := c.recv()
	if resp.Class != message.ClassStatus || !resp.State.Stream.IsClosed() {
		t.Errorf("login response = %s %s, want closed status", resp, resp.State)
	}
	if resp.State.Text != "not entitled" {
		t.Errorf("Text = %q", resp.State.Text)
	}
}

func TestServer_UnknownRequests(t *testing.T) {
	s := newTestServer(t, Config{})
	c := dialServer(t, s)
	c.connect(60)

	c.send(rdm.DictionaryRequest(9, "Other", 1, rdm.VerbosityVerbose))
	if resp := c.recv(); !resp.State.Stream.IsClosed() {
		t.Errorf("unknown dictionary state = %s, want closed", resp.State)
	}

	c.send(rdm.ItemRequest(message.DomainMarketPrice, 10, "X", 99))
	if resp := c.recv(); !resp.State.Stream.IsClosed() {
		t.Errorf("unknown service state = %s, want closed", resp.State)
	}
}

func TestServer_Silent(t *testing.T) {
	s := newTestServer(t, Config{Silent: true})
	c := dialServer(t, s)
	c.connect(60)

	if err := c.w.WriteFrame(&message.Frame{Type: message.FramePing}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := c.r.ReadFrame(); err == nil {
		t.Error("silent server replied to ping")
	}
}

func TestServer_Advertise(t *testing.T) {
	mock := discovery.NewMockMDNSResolver()
	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{ServerFactory: discovery.NewMockServerFactory(mock)})
	s := newTestServer(t, Config{Advertiser: adv, Instance: "local-feed"})

	r, err := discovery.NewResolver(discovery.ResolverConfig{MDNSResolver: mock})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	p, err := r.LookupProvider(context.Background(), "local-feed")
	if err != nil {
		t.Fatalf("LookupProvider() error = %v", err)
	}
	if p.PortString() != s.Port() {
		t.Errorf("advertised port = %s, want %s", p.PortString(), s.Port())
	}
	if !p.TXT.Offers("DIRECT_FEED") {
		t.Errorf("TXT services = %v", p.TXT.Services)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(adv.Instances()) != 0 {
		t.Error("instance still advertised after Stop")
	}
}
