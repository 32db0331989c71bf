package consumer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/backkem/feedconsumer/internal/testutil/tlstest"
	"github.com/backkem/feedconsumer/pkg/dictionary"
	"github.com/backkem/feedconsumer/pkg/handshake"
	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/metrics"
	"github.com/backkem/feedconsumer/pkg/ping"
	"github.com/backkem/feedconsumer/pkg/provider"
	"github.com/backkem/feedconsumer/pkg/rdm"
	"github.com/backkem/feedconsumer/pkg/transport"
)

const testService = "DIRECT_FEED"

func startProvider(t *testing.T, cfg provider.Config) *provider.Server {
	t.Helper()
	if cfg.Services == nil {
		cfg.Services = []rdm.Service{provider.NewService(10, testService)}
	}
	s, err := provider.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func sessionConfig(t *testing.T, srv *provider.Server) Config {
	t.Helper()
	return Config{
		Host:          "127.0.0.1",
		Port:          srv.Port(),
		RunTime:       time.Second,
		ServiceName:   testService,
		UserName:      "tester",
		DictionaryDir: t.TempDir(),
		PingTimeout:   3 * time.Second,
		PollTimeout:   100 * time.Millisecond,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
}

// recorder is a Handler that keeps what it is given.
type recorder struct {
	mu   sync.Mutex
	msgs []*message.Msg
}

func (r *recorder) OnMessage(m *message.Msg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) all() []*message.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*message.Msg(nil), r.msgs...)
}

func runSession(t *testing.T, cfg Config) (*Session, error) {
	t.Helper()
	s, err := NewSession(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return s, s.Run(ctx)
}

func TestNewSession_InvalidConfig(t *testing.T) {
	_, err := NewSession(Config{InitPolicy: transport.InitPolicy(9)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSession_EndToEnd(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	srv := startProvider(t, provider.Config{DictionaryParts: 2, Updates: 2})
	rec := &recorder{}
	collector := metrics.New()

	cfg := sessionConfig(t, srv)
	cfg.RunTime = 1500 * time.Millisecond
	cfg.Items = []string{"TRI.N"}
	cfg.Handler = rec
	cfg.Metrics = collector

	s, err := runSession(t, cfg)
	require.NoError(t, err)

	sum := s.Summary()
	assert.Equal(t, handshake.StageReady, sum.Stage)
	assert.Equal(t, testService, sum.Service)
	assert.Empty(t, sum.LocalDictionaries)
	assert.Equal(t, []string{rdm.FieldDictionaryName, rdm.EnumDictionaryName}, sum.Downloaded)
	assert.Equal(t, len(provider.SampleFields()), sum.NumFields)
	assert.Equal(t, len(provider.SampleEnums()), sum.NumEnumTables)
	assert.GreaterOrEqual(t, sum.PingsSent, uint64(1))
	assert.NoError(t, sum.Err)

	// Refresh plus two updates for the one item.
	msgs := rec.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, message.ClassRefresh, msgs[0].Class)
	assert.Equal(t, "TRI.N", msgs[0].Key.Name)
	assert.Equal(t, message.StreamFirstItem, msgs[0].StreamID)
	assert.Equal(t, uint64(3), sum.Delivered)

	// The login stream is closed before the channel goes down.
	require.Eventually(t, func() bool {
		got := srv.Received()
		last := got[len(got)-1]
		return last.Domain == message.DomainLogin && last.Class == message.ClassClose
	}, 5*time.Second, 20*time.Millisecond)

	reqs := srv.ConnectRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, uint32(3), reqs[0].PingTimeout)

	n, err := testutil.GatherAndCount(collector.Registry(), "feedconsumer_messages_received_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "login, source, dictionary and market price series")
	stage, err := testutil.GatherAndCount(collector.Registry(), "feedconsumer_handshake_stage")
	require.NoError(t, err)
	assert.Equal(t, 1, stage)
}

const fieldFile = `!tag Version 4.20.29
PROD_PERM  "PERMISSION"             1  NULL        INTEGER             5  UINT64           2
RDN_EXCHID "IDN EXCHANGE ID"        4  NULL        ENUMERATED    3 ( 3 )  ENUM             1
BID        "BID"                   22  BID_1       PRICE              17  REAL64           7
`

const enumFile = `!tag Version 4.20.29
RDN_EXCHID     4
    0         "   "    Unknown
    1         "ASE"    NYSE AMEX
`

func TestSession_LocalDictionaries(t *testing.T) {
	srv := startProvider(t, provider.Config{})

	cfg := sessionConfig(t, srv)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DictionaryDir, dictionary.FieldDictionaryFile), []byte(fieldFile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DictionaryDir, dictionary.EnumTypeFile), []byte(enumFile), 0o644))

	s, err := runSession(t, cfg)
	require.NoError(t, err)

	sum := s.Summary()
	assert.Equal(t, handshake.StageReady, sum.Stage)
	assert.Equal(t, []string{rdm.FieldDictionaryName, rdm.EnumDictionaryName}, sum.LocalDictionaries)
	assert.Empty(t, sum.Downloaded)
	assert.Equal(t, 3, sum.NumFields)

	for _, m := range srv.Received() {
		assert.NotEqual(t, message.DomainDictionary, m.Domain, "dictionary requested despite local files")
	}
}

func TestSession_PartialLocalDictionary(t *testing.T) {
	srv := startProvider(t, provider.Config{})

	cfg := sessionConfig(t, srv)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DictionaryDir, dictionary.EnumTypeFile), []byte(enumFile), 0o644))

	s, err := runSession(t, cfg)
	require.NoError(t, err)

	sum := s.Summary()
	assert.Equal(t, handshake.StageReady, sum.Stage)
	assert.Equal(t, []string{rdm.EnumDictionaryName}, sum.LocalDictionaries)
	assert.Equal(t, []string{rdm.FieldDictionaryName}, sum.Downloaded)
}

func TestSession_TLS(t *testing.T) {
	ca := tlstest.NewAuthority(t, t.TempDir(), "feed-ca")
	srv := startProvider(t, provider.Config{TLSConfig: ca.ServerConfig(t)})

	cfg := sessionConfig(t, srv)
	cfg.TLS = TLSConfig{Enabled: true, CAFile: ca.CAFile(), ServerName: "localhost"}

	s, err := runSession(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, handshake.StageReady, s.Summary().Stage)
	assert.Equal(t, 1, srv.Accepted())
}

func TestSession_TerminalErrors(t *testing.T) {
	tests := []struct {
		name    string
		prov    provider.Config
		modify  func(c *Config)
		wantErr error
		kind    string
	}{
		{
			name:    "connect rejected",
			prov:    provider.Config{RejectConnect: "maintenance"},
			wantErr: transport.ErrConnect,
			kind:    "connect",
		},
		{
			name:    "login rejected",
			prov:    provider.Config{RejectLogin: "unknown user"},
			wantErr: handshake.ErrLoginRejected,
			kind:    "login_rejected",
		},
		{
			name:    "service not in directory",
			modify:  func(c *Config) { c.ServiceName = "OTHER_FEED" },
			wantErr: handshake.ErrServiceUnavailable,
			kind:    "service_unavailable",
		},
		{
			name: "service down",
			prov: provider.Config{Services: func() []rdm.Service {
				svc := provider.NewService(10, testService)
				svc.Up = false
				return []rdm.Service{svc}
			}()},
			wantErr: handshake.ErrServiceUnavailable,
			kind:    "service_unavailable",
		},
		{
			name: "no market price",
			prov: provider.Config{Services: func() []rdm.Service {
				svc := provider.NewService(10, testService)
				svc.Capabilities = []message.Domain{message.DomainDictionary}
				return []rdm.Service{svc}
			}()},
			modify:  func(c *Config) { c.Items = []string{"TRI.N"} },
			wantErr: handshake.ErrCapabilityUnsupported,
			kind:    "capability_unsupported",
		},
		{
			name:    "provider silent",
			prov:    provider.Config{Silent: true},
			modify:  func(c *Config) { c.PingTimeout = time.Second; c.RunTime = 10 * time.Second },
			wantErr: ping.ErrLivenessTimeout,
			kind:    "liveness",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startProvider(t, tt.prov)
			collector := metrics.New()
			cfg := sessionConfig(t, srv)
			cfg.RunTime = 5 * time.Second
			cfg.Metrics = collector
			if tt.modify != nil {
				tt.modify(&cfg)
			}

			s, err := runSession(t, cfg)
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, s.Summary().Err, tt.wantErr)

			got, gerr := testutil.GatherAndCount(collector.Registry(), "feedconsumer_session_errors_total")
			require.NoError(t, gerr)
			assert.Equal(t, 1, got)
			assert.Equal(t, []string{tt.kind}, errorKinds(t, collector))
		})
	}
}

// errorKinds returns the kind labels of every recorded session error.
func errorKinds(t *testing.T, c *metrics.Collector) []string {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	var kinds []string
	for _, mf := range families {
		if mf.GetName() != "feedconsumer_session_errors_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" {
					kinds = append(kinds, l.GetValue())
				}
			}
		}
	}
	return kinds
}

func TestSession_DialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())

	cfg := Config{
		Host:           "127.0.0.1",
		Port:           port,
		RunTime:        5 * time.Second,
		PollTimeout:    50 * time.Millisecond,
		ConnectTimeout: time.Second,
		DictionaryDir:  t.TempDir(),
	}
	s, err := runSession(t, cfg)
	require.ErrorIs(t, err, transport.ErrConnect)
	assert.Equal(t, handshake.StageLoggingIn, s.Summary().Stage)
}

func TestSession_InitPolicyFailFast(t *testing.T) {
	pp := transport.NewPipePair()
	pp.DialDelay = time.Second
	defer pp.Close()

	cfg := Config{
		RunTime:       5 * time.Second,
		PollTimeout:   50 * time.Millisecond,
		InitPolicy:    transport.InitFailOnEmptyPoll,
		DictionaryDir: t.TempDir(),
		Dial:          pp.Dial,
	}
	_, err := runSession(t, cfg)
	assert.ErrorIs(t, err, transport.ErrHandshakeTimeout)
}

func TestSession_RunTimeExpiresDuringInit(t *testing.T) {
	pp := transport.NewPipePair()
	pp.DialDelay = 2 * time.Second
	defer pp.Close()

	cfg := Config{
		RunTime:       200 * time.Millisecond,
		PollTimeout:   50 * time.Millisecond,
		DictionaryDir: t.TempDir(),
		Dial:          pp.Dial,
	}
	s, err := runSession(t, cfg)
	require.NoError(t, err)
	assert.NoError(t, s.Summary().Err)
}

func TestSession_Cancel(t *testing.T) {
	srv := startProvider(t, provider.Config{})
	cfg := sessionConfig(t, srv)
	cfg.RunTime = time.Minute

	s, err := NewSession(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(500*time.Millisecond, cancel)
	err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, handshake.StageReady, s.Summary().Stage)

	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRunning)
}

func TestSession_Concurrent(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	srv, err := provider.NewServer(provider.Config{
		Services: []rdm.Service{provider.NewService(10, testService)},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	sessions := make([]*Session, 3)
	for i := range sessions {
		cfg := sessionConfig(t, srv)
		cfg.Items = []string{"TRI.N", "IBM.N"}
		cfg.Handler = HandlerFunc(func(*message.Msg) {})
		sessions[i], err = NewSession(cfg)
		require.NoError(t, err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	for _, s := range sessions {
		s := s
		g.Go(func() error { return s.Run(ctx) })
	}
	require.NoError(t, g.Wait())

	for _, s := range sessions {
		sum := s.Summary()
		assert.Equal(t, handshake.StageReady, sum.Stage)
		assert.Equal(t, uint64(2), sum.Delivered)
	}
	assert.Equal(t, 3, srv.Accepted())
}
