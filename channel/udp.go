package channel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyberinferno/agentlink/logger"
	"github.com/cyberinferno/agentlink/message"
)

var (
	ErrAlreadyActive = errors.New("channel: already active")
	ErrNotConnected  = errors.New("channel: not connected")
	ErrOutboundFull  = errors.New("channel: outbound queue full")
)

// State represents the current state of the link.
type State int

const (
	Disconnected State = iota // no link and no attempt in progress
	Connecting                // hello sent, waiting for welcome
	Connected                 // welcome received
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Config holds configuration for the UDP channel.
type Config struct {
	// ConnectTimeout bounds how long Connecting may last without a welcome.
	ConnectTimeout time.Duration
	// HelloInterval is the delay between hello retransmissions while Connecting.
	HelloInterval time.Duration
	// WriteTimeout is the max duration of a single datagram write.
	WriteTimeout time.Duration
	// ReadBufferSize is the largest datagram accepted.
	ReadBufferSize int
	// MaxOutbound caps the number of queued, unflushed datagrams per link.
	MaxOutbound int
	// InboxSize is the number of received datagrams buffered between Update calls.
	InboxSize int
}

// DefaultConfig returns a Config with defaults: ConnectTimeout 5s,
// HelloInterval 250ms, WriteTimeout 100ms, ReadBufferSize 2048,
// MaxOutbound 1024, InboxSize 256.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		HelloInterval:  250 * time.Millisecond,
		WriteTimeout:   100 * time.Millisecond,
		ReadBufferSize: 2048,
		MaxOutbound:    1024,
		InboxSize:      256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HelloInterval <= 0 {
		c.HelloInterval = d.HelloInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxOutbound <= 0 {
		c.MaxOutbound = d.MaxOutbound
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	return c
}

// link is one bound socket talking to one remote address.
type link struct {
	conn     *net.UDPConn
	remote   *net.UDPAddr
	outbound [][]byte
	readErr  error
	closed   bool
}

type datagram struct {
	link *link
	data []byte
}

// UDPChannel implements Channel over UDP with a small hello/welcome/bye
// session protocol. Notifications are dispatched from Update on the caller's
// goroutine. It is safe for concurrent use.
type UDPChannel struct {
	config Config
	log    logger.Logger
	now    func() time.Time
	inbox  chan datagram

	mu             sync.Mutex
	state          State
	current        *link
	closing        []*link
	nonce          uuid.UUID
	identity       string
	connectStarted time.Time
	lastHello      time.Time
	sessionID      string

	onConnected    ConnectedHandler
	onDisconnected DisconnectedHandler
	onMessage      MessageHandler
}

// NewUDPChannel creates a UDP channel in the Disconnected state.
//
// Parameters:
//   - config: Timeouts and buffer sizes; zero fields take DefaultConfig values
//   - log: Logger for transport diagnostics; nil disables logging
//
// Returns:
//   - A new *UDPChannel; call Close when done to release sockets
func NewUDPChannel(config Config, log logger.Logger) *UDPChannel {
	config = config.withDefaults()
	return &UDPChannel{
		config: config,
		log:    logger.OrNop(log).With(logger.F("component", "udp-channel")),
		now:    time.Now,
		inbox:  make(chan datagram, config.InboxSize),
	}
}

func (c *UDPChannel) OnConnectedToClient(h ConnectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = h
}

func (c *UDPChannel) OnDisconnectedFromClient(h DisconnectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = h
}

func (c *UDPChannel) OnMessageReceived(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

// Connect binds localPort (0 picks an ephemeral port), resolves the remote
// address and starts the hello exchange. The link is Active on return.
//
// Returns:
//   - ErrAlreadyActive if a link is active, or a resolve/bind error
func (c *UDPChannel) Connect(localIdentity string, localPort int, remoteHost string, remotePort int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return ErrAlreadyActive
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)))
	if err != nil {
		return fmt.Errorf("resolve %s:%d: %w", remoteHost, remotePort, err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return fmt.Errorf("bind local port %d: %w", localPort, err)
	}

	l := &link{conn: conn, remote: remote}
	c.current = l
	c.state = Connecting
	c.nonce = uuid.New()
	c.identity = localIdentity
	c.sessionID = ""
	c.connectStarted = c.now()
	c.sendHelloLocked()

	c.log.Debug("connecting",
		logger.F("local", conn.LocalAddr().String()),
		logger.F("remote", remote.String()))

	go c.readLoop(l)
	return nil
}

// Disconnect makes the channel inactive immediately and queues a bye for the
// remote side. The old socket is closed by Update once the bye is flushed.
// No DisconnectedFromClient notification is raised for a local disconnect.
func (c *UDPChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return
	}

	c.teardownLocked(true)
}

// Update dispatches received datagrams, drives the hello retransmission and
// connect timeout, and flushes queued datagrams. Handlers run after the
// internal lock is released.
func (c *UDPChannel) Update() {
	var events []func()

	c.mu.Lock()

drain:
	for {
		select {
		case d := <-c.inbox:
			if ev := c.handleDatagramLocked(d); ev != nil {
				events = append(events, ev)
			}
		default:
			break drain
		}
	}

	if l := c.current; l != nil && l.readErr != nil {
		reason := fmt.Sprintf("read error: %v", l.readErr)
		c.teardownLocked(false)
		events = append(events, c.disconnectedEventLocked(reason))
	}

	if c.state == Connecting {
		now := c.now()
		if now.Sub(c.connectStarted) >= c.config.ConnectTimeout {
			c.teardownLocked(false)
			events = append(events, c.disconnectedEventLocked("connect timed out"))
		} else if now.Sub(c.lastHello) >= c.config.HelloInterval {
			c.sendHelloLocked()
		}
	}

	c.flushLocked()
	c.mu.Unlock()

	for _, ev := range events {
		ev()
	}
}

// Send encodes msg and queues it on the current link.
//
// Returns:
//   - ErrNotConnected, ErrOutboundFull, or an encoding error
func (c *UDPChannel) Send(msg message.Message) error {
	payload, err := message.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected || c.current == nil {
		return ErrNotConnected
	}

	return c.enqueueLocked(c.current, dataFrame(payload))
}

func (c *UDPChannel) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *UDPChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Connected
}

func (c *UDPChannel) HasPendingOperations() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && len(c.current.outbound) > 0 {
		return true
	}

	return len(c.closing) > 0
}

// State returns the current link state.
func (c *UDPChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id assigned by the remote side, or "" if not connected.
func (c *UDPChannel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close closes every socket immediately, dropping unflushed datagrams.
// Idempotent.
func (c *UDPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.closeLinkLocked(c.current)
		c.current = nil
	}

	for _, l := range c.closing {
		c.closeLinkLocked(l)
	}

	c.closing = nil
	c.state = Disconnected
	c.sessionID = ""
	return nil
}

func (c *UDPChannel) handleDatagramLocked(d datagram) func() {
	if d.link != c.current || len(d.data) == 0 {
		return nil
	}

	kind, body := frameKind(d.data[0]), d.data[1:]
	switch kind {
	case frameWelcome:
		nonce, sessionID, err := parseNonced(body, sessionSize)
		if err != nil || c.state != Connecting || nonce != c.nonce {
			return nil
		}

		c.state = Connected
		c.sessionID = sessionID
		c.log.Info("connected", logger.F("session_id", sessionID))
		if h := c.onConnected; h != nil {
			return func() { h(sessionID) }
		}
	case frameData:
		if c.state != Connected {
			return nil
		}

		msg, err := message.Decode(body)
		if err != nil {
			c.log.Debug("dropping undecodable datagram", logger.Err(err))
			return nil
		}

		if h := c.onMessage; h != nil {
			return func() { h(msg) }
		}
	case frameBye:
		c.teardownLocked(false)
		return c.disconnectedEventLocked("closed by remote")
	}

	return nil
}

func (c *UDPChannel) disconnectedEventLocked(reason string) func() {
	c.log.Info("disconnected", logger.F("reason", reason))
	h := c.onDisconnected
	if h == nil {
		return nil
	}

	return func() { h(reason) }
}

// teardownLocked detaches the current link. With bye set the link lingers in
// c.closing until the bye is flushed; otherwise it is closed at once.
func (c *UDPChannel) teardownLocked(bye bool) {
	l := c.current
	c.current = nil
	c.state = Disconnected
	c.sessionID = ""

	if bye && l.readErr == nil {
		l.outbound = append(l.outbound, byeFrame())
		c.closing = append(c.closing, l)
		return
	}

	c.closeLinkLocked(l)
}

func (c *UDPChannel) sendHelloLocked() {
	c.lastHello = c.now()
	_ = c.enqueueLocked(c.current, helloFrame(c.nonce, c.identity))
}

func (c *UDPChannel) enqueueLocked(l *link, frame []byte) error {
	if len(l.outbound) >= c.config.MaxOutbound {
		return ErrOutboundFull
	}

	l.outbound = append(l.outbound, frame)
	return nil
}

func (c *UDPChannel) flushLocked() {
	if c.current != nil {
		c.writeLocked(c.current)
	}

	remaining := c.closing[:0]
	for _, l := range c.closing {
		c.writeLocked(l)
		if len(l.outbound) == 0 {
			c.closeLinkLocked(l)
			continue
		}
		remaining = append(remaining, l)
	}

	c.closing = remaining
}

// writeLocked writes queued datagrams until one fails; the failed one and the
// rest stay queued for the next Update.
func (c *UDPChannel) writeLocked(l *link) {
	sent := 0
	for _, frame := range l.outbound {
		_ = l.conn.SetWriteDeadline(c.now().Add(c.config.WriteTimeout))
		if _, err := l.conn.WriteToUDP(frame, l.remote); err != nil {
			c.log.Warn("datagram write failed", logger.Err(err), logger.F("queued", len(l.outbound)-sent))
			break
		}
		sent++
	}

	l.outbound = l.outbound[sent:]
}

func (c *UDPChannel) closeLinkLocked(l *link) {
	if l.closed {
		return
	}

	l.closed = true
	l.outbound = nil
	_ = l.conn.Close()
}

func (c *UDPChannel) readLoop(l *link) {
	buf := make([]byte, c.config.ReadBufferSize)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			c.mu.Lock()
			if !l.closed {
				l.readErr = err
			}
			c.mu.Unlock()
			return
		}

		if n == 0 || !sameAddr(addr, l.remote) {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case c.inbox <- datagram{link: l, data: data}:
		default:
			c.log.Debug("inbox full, dropping datagram", logger.F("bytes", n))
		}
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
