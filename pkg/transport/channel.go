package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/poll"
	"github.com/pion/logging"
)

// Defaults for ConnectConfig.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultMaxOutputBuffers = 50
	DefaultClientName       = "feed-consumer"
)

// MaxMessageSize bounds a message reassembled from data fragments.
const MaxMessageSize = 16 << 20

// DialFunc dials the provider. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectConfig configures a Channel.
type ConnectConfig struct {
	// Host is the provider host name or address. Required.
	Host string

	// Port is the provider port or service name. Required.
	Port string

	// Interface is the local interface name or IP address to bind.
	// Empty binds to all interfaces.
	Interface string

	// ConnectTimeout bounds the dial and, under InitRetryUntilDeadline,
	// the whole of initialization. Default: 10s.
	ConnectTimeout time.Duration

	// InitPolicy decides what an empty poll means during initialization.
	InitPolicy InitPolicy

	// PingTimeout is the heartbeat timeout requested from the provider.
	// Default: 60s.
	PingTimeout time.Duration

	// ClientName identifies this consumer in the connect request.
	ClientName string

	// MaxFragmentSize caps the data frame body size used until the
	// provider negotiates one. Default: message.DefaultMaxFragmentSize.
	MaxFragmentSize int

	// MaxOutputBuffers bounds buffers held by callers or waiting to be
	// written. Default: 50.
	MaxOutputBuffers int

	// HighWaterMark is the number of queued bytes at which Write flushes.
	// Zero flushes on every completed Write.
	HighWaterMark int

	// TLSConfig enables an encrypted connection when set.
	TLSConfig *tls.Config

	// Dial overrides how the connection is established. Used by tests.
	Dial DialFunc

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultConnectConfig returns a configuration for localhost with all
// defaults applied.
func DefaultConnectConfig() ConnectConfig {
	c := ConnectConfig{Host: "localhost", Port: "14002"}
	c.applyDefaults()
	return c
}

func (c *ConnectConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.MaxFragmentSize <= 0 {
		c.MaxFragmentSize = message.DefaultMaxFragmentSize
	}
	if c.MaxOutputBuffers <= 0 {
		c.MaxOutputBuffers = DefaultMaxOutputBuffers
	}
}

// Validate checks the configuration.
func (c *ConnectConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidConfig)
	}
	if !c.InitPolicy.IsValid() {
		return fmt.Errorf("%w: init policy %d", ErrInvalidConfig, c.InitPolicy)
	}
	if c.HighWaterMark < 0 {
		return fmt.Errorf("%w: negative high water mark", ErrInvalidConfig)
	}
	return nil
}

// pendingWrite is one encoded frame waiting for the socket. buf is set on
// the final frame of a buffer so the buffer returns to the pool once
// written.
type pendingWrite struct {
	data []byte
	buf  *Buffer
}

// Channel is one consumer connection to a provider.
//
// Every method must be called from a single goroutine, the one that also
// calls Poll on the poller the descriptor is registered with. Dial, TLS
// handshake, reads and socket writes run on internal goroutines that only
// queue results and wake the poller.
type Channel struct {
	cfg   ConnectConfig
	addr  string
	state ChannelState
	log   logging.LeveledLogger

	desc    *descriptor
	nextID  int
	conn    net.Conn
	started time.Time

	tlsPending bool
	failure    error

	pingTimeout time.Duration
	maxFragment int

	pool     *bufferPool
	out      []pendingWrite
	outBytes int
	inflight []pendingWrite
	writeReq chan []byte
	writeRes chan error

	partial       []byte
	partialActive bool

	ctx     context.Context
	cancel  context.CancelFunc
	closeCh chan struct{}
	wg      sync.WaitGroup

	connsMu sync.Mutex
	conns   []net.Conn
	closing bool
	closed  bool

	stats Stats
}

// Stats counts channel activity.
type Stats struct {
	FramesWritten uint64
	BytesWritten  uint64
	FramesRead    uint64
	PingsSent     uint64
	PingsRead     uint64
}

// Connect validates config and starts an asynchronous dial. The returned
// channel is CONNECTING; register Descriptor() for connect and read
// interest and call Init whenever it is ready.
func Connect(config ConnectConfig) (*Channel, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	dial := config.Dial
	if dial == nil {
		local, err := LocalAddress(config.Interface)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, err)
		}
		d := &net.Dialer{Timeout: config.ConnectTimeout}
		if local != nil {
			d.LocalAddr = local
		}
		dial = d.DialContext
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:         config,
		addr:        RemoteAddress(config.Host, config.Port),
		state:       StateConnecting,
		started:     time.Now(),
		pingTimeout: config.PingTimeout,
		maxFragment: config.MaxFragmentSize,
		pool:        newBufferPool(config.MaxOutputBuffers),
		writeReq:    make(chan []byte, 1),
		writeRes:    make(chan error, 1),
		ctx:         ctx,
		cancel:      cancel,
		closeCh:     make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("transport")
	}
	c.desc = c.newDescriptor()

	if c.log != nil {
		c.log.Infof("connecting to %s", c.addr)
	}

	desc := c.desc
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		dctx, dcancel := context.WithTimeout(ctx, config.ConnectTimeout)
		defer dcancel()
		conn, err := dial(dctx, "tcp", c.addr)
		if err == nil && !c.track(conn) {
			conn, err = nil, ErrClosed
		}
		desc.completeSetup(conn, err)
	}()

	return c, nil
}

func (c *Channel) newDescriptor() *descriptor {
	c.nextID++
	return newDescriptor(c, c.nextID)
}

// track records a connection so Close can shut it. It returns false, after
// closing conn, when the channel is already closing.
func (c *Channel) track(conn net.Conn) bool {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()
	if c.closing {
		conn.Close()
		return false
	}
	c.conns = append(c.conns, conn)
	return true
}

// State returns the channel state.
func (c *Channel) State() ChannelState {
	return c.state
}

// Descriptor returns the poll source currently representing the channel.
func (c *Channel) Descriptor() poll.Source {
	return c.desc
}

// Err returns the error that failed the channel, if any.
func (c *Channel) Err() error {
	return c.failure
}

// PingTimeout returns the negotiated heartbeat timeout.
func (c *Channel) PingTimeout() time.Duration {
	return c.pingTimeout
}

// MaxFragmentSize returns the negotiated data frame body size.
func (c *Channel) MaxFragmentSize() int {
	return c.maxFragment
}

// LocalAddr returns the local socket address, or nil before the dial
// completes.
func (c *Channel) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr returns the provider address being dialled.
func (c *Channel) RemoteAddr() string {
	return c.addr
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return c.stats
}

// BuffersInUse returns the number of pool buffers not yet released.
func (c *Channel) BuffersInUse() int {
	return c.pool.inUse()
}

// Init advances channel initialization by one step.
func (c *Channel) Init() (InitResult, error) {
	switch c.state {
	case StateConnecting:
		done, conn, err := c.desc.takeSetup()
		if !done {
			return InitInProgress, nil
		}
		if err != nil {
			return c.fail(fmt.Errorf("%w: dial %s: %w", ErrConnect, c.addr, err))
		}
		c.conn = conn
		c.state = StateInitializing
		if c.cfg.TLSConfig != nil {
			c.startTLS(conn)
			return InitDescriptorChanged, nil
		}
		return c.startProtocol(conn)

	case StateInitializing:
		if c.tlsPending {
			done, conn, err := c.desc.takeSetup()
			if !done {
				return InitInProgress, nil
			}
			if err != nil {
				return c.fail(fmt.Errorf("%w: tls handshake: %w", ErrConnect, err))
			}
			c.tlsPending = false
			c.conn = conn
			return c.startProtocol(conn)
		}
		return c.awaitAck()

	case StateActive:
		return InitActive, nil

	default:
		if c.failure != nil {
			return InitFailed, c.failure
		}
		return InitFailed, ErrClosed
	}
}

// CheckInitTimeout applies the init policy after a poll. emptyPoll is true
// when the poll returned no events.
func (c *Channel) CheckInitTimeout(emptyPoll bool, now time.Time) error {
	if c.state == StateActive {
		return nil
	}
	if emptyPoll && c.cfg.InitPolicy == InitFailOnEmptyPoll {
		return fmt.Errorf("%w: no progress in %s state", ErrHandshakeTimeout, c.state)
	}
	if elapsed := now.Sub(c.started); elapsed >= c.cfg.ConnectTimeout {
		return fmt.Errorf("%w: still %s after %s", ErrHandshakeTimeout, c.state, elapsed.Round(time.Millisecond))
	}
	return nil
}

func (c *Channel) startTLS(raw net.Conn) {
	cfg := c.cfg.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = c.cfg.Host
	}
	tc := tls.Client(raw, cfg)

	c.desc = c.newDescriptor()
	c.tlsPending = true
	if c.log != nil {
		c.log.Debugf("starting tls handshake with %s on descriptor %d", c.addr, c.desc.id)
	}

	desc := c.desc
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
		defer cancel()
		err := tc.HandshakeContext(ctx)
		if err != nil {
			desc.completeSetup(nil, err)
			return
		}
		if !c.track(tc) {
			desc.completeSetup(nil, ErrClosed)
			return
		}
		desc.completeSetup(tc, nil)
	}()
}

// startProtocol starts the pumps on conn and sends the connect request.
func (c *Channel) startProtocol(conn net.Conn) (InitResult, error) {
	desc := c.desc

	c.wg.Add(2)
	go c.readLoop(conn, desc)
	go c.writeLoop(conn, desc)

	req := &message.ConnectRequest{
		Version:     message.ProtocolVersion,
		PingTimeout: uint32(c.cfg.PingTimeout / time.Second),
		ClientName:  c.cfg.ClientName,
	}
	f, err := req.Frame()
	if err != nil {
		return c.fail(fmt.Errorf("%w: %w", ErrConnect, err))
	}
	c.enqueue(f, nil)
	if _, err := c.Flush(); err != nil {
		return c.fail(fmt.Errorf("%w: %w", ErrConnect, err))
	}
	if c.log != nil {
		c.log.Debugf("connect request sent to %s", c.addr)
	}
	return InitInProgress, nil
}

func (c *Channel) awaitAck() (InitResult, error) {
	f, err := c.desc.pop()
	if f == nil {
		if err != nil {
			return c.fail(fmt.Errorf("%w: connection lost during setup: %w", ErrConnect, err))
		}
		return InitInProgress, nil
	}

	switch f.Type {
	case message.FrameConnectAck:
		ack, err := message.DecodeConnectAck(f.Body)
		if err != nil {
			return c.fail(fmt.Errorf("%w: %w", ErrConnect, err))
		}
		if ack.PingTimeout > 0 {
			c.pingTimeout = time.Duration(ack.PingTimeout) * time.Second
		}
		if ack.MaxFragmentSize > 0 {
			c.maxFragment = int(ack.MaxFragmentSize)
		}
		c.state = StateActive
		if c.log != nil {
			c.log.Infof("channel active: ping timeout %s, max fragment %d", c.pingTimeout, c.maxFragment)
		}
		return InitActive, nil

	case message.FrameConnectNak:
		reason := "rejected"
		if nak, err := message.DecodeConnectNak(f.Body); err == nil && nak.Reason != "" {
			reason = nak.Reason
		}
		return c.fail(fmt.Errorf("%w: provider refused connection: %s", ErrConnect, reason))

	default:
		return c.fail(fmt.Errorf("%w: %w: %s during setup", ErrConnect, ErrUnexpectedFrame, f.Type))
	}
}

func (c *Channel) fail(err error) (InitResult, error) {
	c.state = StateFailed
	c.failure = err
	if c.log != nil {
		c.log.Errorf("channel setup failed: %v", err)
	}
	return InitFailed, err
}

func (c *Channel) readLoop(conn net.Conn, desc *descriptor) {
	defer c.wg.Done()
	sr := message.NewStreamReader(bufio.NewReader(conn))
	for {
		f, err := sr.ReadFrame()
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			desc.setReadErr(err)
			return
		}
		desc.push(f)
	}
}

func (c *Channel) writeLoop(conn net.Conn, desc *descriptor) {
	defer c.wg.Done()
	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.writeReq:
			_, err := conn.Write(data)
			c.writeRes <- err
			desc.notify()
		}
	}
}

func (c *Channel) checkActive() error {
	switch c.state {
	case StateActive:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		if c.failure != nil {
			return c.failure
		}
		return fmt.Errorf("%w: %s", ErrNotActive, c.state)
	}
}

// GetBuffer takes a buffer with capacity for size bytes from the pool.
func (c *Channel) GetBuffer(size int) (*Buffer, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	return c.pool.get(size)
}

// Write queues buf for sending. A buffer larger than the negotiated
// fragment size is queued one fragment per call; WriteCallAgain asks for
// another call with the same buffer.
func (c *Channel) Write(buf *Buffer) (WriteResult, error) {
	if err := c.checkActive(); err != nil {
		return WriteFlushFailed, err
	}
	if buf == nil || buf.state != bufferHeld {
		return WriteFlushFailed, ErrBufferReleased
	}

	rest := buf.Data[buf.sent:]
	if len(rest) > c.maxFragment {
		c.enqueue(&message.Frame{
			Type:  message.FrameData,
			Flags: message.FrameFlagMore,
			Body:  rest[:c.maxFragment],
		}, nil)
		buf.sent += c.maxFragment
		return WriteCallAgain, nil
	}

	c.enqueue(&message.Frame{Type: message.FrameData, Body: rest}, buf)
	buf.sent = len(buf.Data)
	buf.state = bufferQueued

	if c.outBytes < c.cfg.HighWaterMark {
		return WriteStillQueued, nil
	}
	pending, err := c.Flush()
	if err != nil || pending {
		return WriteFlushFailed, nil
	}
	return WriteSent, nil
}

func (c *Channel) enqueue(f *message.Frame, buf *Buffer) {
	data := f.Encode()
	c.out = append(c.out, pendingWrite{data: data, buf: buf})
	c.outBytes += len(data)
	c.stats.FramesWritten++
}

// Pending reports whether bytes are still queued or being written.
func (c *Channel) Pending() bool {
	return len(c.out) > 0 || c.inflight != nil
}

// writeReady reports whether Flush can make progress without waiting.
func (c *Channel) writeReady() bool {
	if c.inflight != nil {
		return len(c.writeRes) > 0
	}
	return len(c.out) > 0
}

// Flush hands queued bytes to the write pump without waiting for the
// socket. pending is true when bytes remain; that is not an error.
func (c *Channel) Flush() (pending bool, err error) {
	if c.state != StateActive && c.state != StateInitializing {
		return c.Pending(), fmt.Errorf("%w: %w", ErrFlush, ErrClosed)
	}
	for {
		if c.inflight != nil {
			done, res := c.awaitWrite()
			if !done {
				return true, nil
			}
			if err := c.finishWrite(res); err != nil {
				return true, err
			}
		}
		if len(c.out) == 0 {
			return false, nil
		}
		c.startWrite()
	}
}

func (c *Channel) startWrite() {
	batch := make([]byte, 0, c.outBytes)
	for _, pw := range c.out {
		batch = append(batch, pw.data...)
	}
	c.inflight = c.out
	c.out = nil
	c.outBytes = 0
	c.writeReq <- batch
}

// awaitWrite collects the in-flight write result if the pump has one.
// It never waits: the pump wakes the poller when the write completes.
func (c *Channel) awaitWrite() (done bool, res error) {
	select {
	case err := <-c.writeRes:
		return true, err
	default:
		return false, nil
	}
}

func (c *Channel) finishWrite(res error) error {
	done := c.inflight
	c.inflight = nil
	if res != nil {
		c.state = StateClosed
		c.failure = fmt.Errorf("%w: %w", ErrFlush, res)
		if c.log != nil {
			c.log.Errorf("write to %s failed: %v", c.addr, res)
		}
		return c.failure
	}
	for _, pw := range done {
		c.stats.BytesWritten += uint64(len(pw.data))
		if pw.buf != nil {
			c.pool.put(pw.buf)
		}
	}
	return nil
}

// Ping sends a heartbeat. When output is already pending it flushes
// instead, since any outbound bytes count as liveness.
func (c *Channel) Ping() error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if !c.Pending() {
		c.enqueue(&message.Frame{Type: message.FramePing}, nil)
		c.stats.PingsSent++
	}
	_, err := c.Flush()
	return err
}

// Read returns the next inbound unit. Data fragments are reassembled; a
// payload is returned only once its final fragment has arrived.
func (c *Channel) Read() ([]byte, ReadResult, error) {
	if err := c.checkActive(); err != nil {
		return nil, ReadWouldBlock, err
	}
	for {
		f, err := c.desc.pop()
		if f == nil {
			if err != nil {
				c.state = StateClosed
				if errors.Is(err, io.EOF) {
					c.failure = fmt.Errorf("%w: peer closed connection", ErrConnectionLost)
				} else {
					c.failure = fmt.Errorf("%w: %w", ErrConnectionLost, err)
				}
				return nil, ReadWouldBlock, c.failure
			}
			return nil, ReadWouldBlock, nil
		}
		c.stats.FramesRead++

		switch f.Type {
		case message.FramePing:
			c.stats.PingsRead++
			return nil, ReadPing, nil

		case message.FrameData:
			more := f.Flags&message.FrameFlagMore != 0
			if !more && !c.partialActive {
				return f.Body, ReadData, nil
			}
			if len(c.partial)+len(f.Body) > MaxMessageSize {
				c.partial, c.partialActive = nil, false
				return nil, ReadWouldBlock, fmt.Errorf("%w: %w", message.ErrProtocolDecode, ErrMessageTooLarge)
			}
			c.partial = append(c.partial, f.Body...)
			c.partialActive = true
			if more {
				continue
			}
			payload := c.partial
			c.partial, c.partialActive = nil, false
			return payload, ReadData, nil

		default:
			return nil, ReadWouldBlock, fmt.Errorf("%w: %w: %s", message.ErrProtocolDecode, ErrUnexpectedFrame, f.Type)
		}
	}
}

// Close shuts the channel down, stops its goroutines and releases every
// outstanding buffer. It is idempotent.
func (c *Channel) Close() error {
	c.connsMu.Lock()
	if c.closed {
		c.connsMu.Unlock()
		return nil
	}
	c.closed = true
	c.closing = true
	conns := c.conns
	c.conns = nil
	c.connsMu.Unlock()

	c.cancel()
	close(c.closeCh)
	for _, conn := range conns {
		conn.Close()
	}
	c.wg.Wait()

	// A setup result that was never taken still owns a connection.
	if _, conn, _ := c.desc.takeSetup(); conn != nil {
		conn.Close()
	}

	released := c.pool.releaseAll()
	c.out, c.inflight = nil, nil
	c.outBytes = 0
	c.partial, c.partialActive = nil, false
	if c.state != StateFailed {
		c.state = StateClosed
	}
	if c.log != nil {
		c.log.Debugf("channel to %s closed, released %d buffers", c.addr, released)
	}
	return nil
}
