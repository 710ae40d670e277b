// Package session maintains the live control session with a remote
// embodied-agent control engine. A Manager owns one background loop that
// (re)establishes the transport link, performs the handshake, watches the
// heartbeat, and flushes three kinds of outbound queues:
//
//   - a single-slot request (last writer wins, e.g. SendAnimation),
//   - a FIFO buffer fed by SendMessage, sent in submission order,
//   - coalescing SendQueues created by CreateSendQueue (latest value wins,
//     rate gated per queue).
//
// All public methods are safe for concurrent use. Their effects are picked up
// by the next loop tick. Delivery, cross-queue ordering and exactly-once
// semantics are not guaranteed; superseded single-slot and coalesced values
// are discarded on purpose.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyberinferno/agentlink/channel"
	"github.com/cyberinferno/agentlink/logger"
	"github.com/cyberinferno/agentlink/message"
	"github.com/cyberinferno/agentlink/registry"
)

const drainPollInterval = 10 * time.Millisecond

// Manager is the session/connection manager. Create it with NewManager, then
// Start and Stop it; a stopped Manager may be started again.
type Manager struct {
	cfg     Config
	ch      channel.Channel
	log     logger.Logger
	ports   PortSource
	peers   *registry.Registry
	metrics *Metrics
	now     func() time.Time

	mu               sync.Mutex
	running          bool
	stopRequested    bool
	done             chan struct{}
	ctx              context.Context
	cancel           context.CancelFunc
	sessionID        string
	resetRequested   bool
	connectRequested bool
	connectionTries  int
	ready            bool
	liveness         livenessMonitor
	request          message.Message
	outgoing         *fifoBuffer
	queues           []*SendQueue
	idle             message.Message
	disconnectReason string
	status           statusPublisher
}

// NewManager creates a Manager driving ch and registers its handlers on ch.
//
// Parameters:
//   - cfg: Endpoint, handshake and timing settings
//   - ch: The transport channel; owned by the Manager from now on
//   - opts: Optional logger, port source, registry, metrics and clock
//
// Returns:
//   - The Manager, or an error wrapping ErrInvalidConfig
func NewManager(cfg Config, ch channel.Channel, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, errors.New("session: channel required")
	}

	m := &Manager{
		cfg:      cfg,
		ch:       ch,
		log:      logger.NewNopLogger(),
		ports:    ephemeralPort{},
		now:      time.Now,
		ctx:      context.Background(),
		cancel:   func() {},
		liveness: livenessMonitor{timeout: cfg.LivenessTimeout},
		outgoing: newFIFOBuffer(cfg.MaxPendingMessages),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.peers == nil {
		m.peers = registry.New(30*time.Second, time.Minute)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	m.log = m.log.With(logger.F("device", cfg.DeviceID), logger.F("remote", cfg.RemoteHost))

	ch.OnConnectedToClient(m.onConnected)
	ch.OnDisconnectedFromClient(m.onDisconnected)
	ch.OnMessageReceived(m.onMessage)

	return m, nil
}

// Start spawns the session loop. It is a no-op if the loop is already running.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.stopRequested = false
	m.done = make(chan struct{})
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.sessionID = uuid.NewString()
	m.connectionTries = 0
	m.ready = false

	m.log.Info("session started", logger.F("session", m.sessionID))
	go m.run(m.done)
}

// Stop signals the loop, then blocks until it has exited and drained the
// transport. It is a no-op if the loop is not running. Stop must not be
// called from a status handler running on the loop goroutine.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	m.stopRequested = true
	done, cancel := m.done, m.cancel
	m.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the session loop is running.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reset asks the loop to drop the transport link on its next tick.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetRequested = true
}

// RequestConnect asks the loop to (re)connect and restarts the retry budget.
// This is the only place the retry counter is reset.
func (m *Manager) RequestConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectRequested = true
	m.connectionTries = 0
}

// SetRequest overwrites the single-slot request and requests a connection.
// Only the latest request set before a tick is sent.
//
// Parameters:
//   - msg: The request message; must not be mutated afterwards
func (m *Manager) SetRequest(msg message.Message) {
	m.mu.Lock()
	m.request = msg
	m.mu.Unlock()

	m.RequestConnect()
}

// SendAnimation requests that the named animation be played.
//
// Returns:
//   - An error wrapping message.ErrFieldTooLong if the name does not fit
func (m *Manager) SendAnimation(name string) error {
	msg, err := message.NewPlayAnimation(name)
	if err != nil {
		return err
	}

	m.SetRequest(msg)
	return nil
}

// ReadAnimationFile requests that the engine load the animation file at path.
//
// Returns:
//   - An error wrapping message.ErrFieldTooLong if the path does not fit
func (m *Manager) ReadAnimationFile(path string) error {
	msg, err := message.NewReadAnimationFile(path)
	if err != nil {
		return err
	}

	m.SetRequest(msg)
	return nil
}

// SetIdleMessage stores the message sent once each time the session becomes
// ready. If the session is ready already it is sent immediately. A nil msg
// clears it.
func (m *Manager) SetIdleMessage(msg message.Message) {
	m.mu.Lock()
	m.idle = msg
	ready := m.ready
	m.mu.Unlock()

	if ready && msg != nil {
		m.send(msg, queueIdle)
	}
}

// SendMessage appends msg to the FIFO buffer and requests a connection.
func (m *Manager) SendMessage(msg message.Message) {
	m.mu.Lock()
	dropped := m.outgoing.push(msg)
	m.mu.Unlock()

	if dropped > 0 {
		m.log.Warn("outgoing buffer full, dropped oldest messages", logger.F("dropped", dropped))
	}

	m.RequestConnect()
}

// CreateSendQueue returns a new coalescing SendQueue that the loop drains at
// most once per refreshInterval.
func (m *Manager) CreateSendQueue(refreshInterval time.Duration) *SendQueue {
	q := &SendQueue{owner: m, interval: refreshInterval}

	m.mu.Lock()
	m.queues = append(m.queues, q)
	m.mu.Unlock()

	return q
}

// OnConnectionTextUpdate registers h to receive status text changes and
// returns a function that removes it. A handler may be invoked once more
// after removal when a publish was already in flight.
func (m *Manager) OnConnectionTextUpdate(h TextHandler) (remove func()) {
	m.mu.Lock()
	id := m.status.add(h)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.status.remove(id)
			m.mu.Unlock()
		})
	}
}

// ConnectionText returns the last published status text.
func (m *Manager) ConnectionText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.last
}

// State derives the current session state.
func (m *Manager) State() State {
	connected, active := m.ch.IsConnected(), m.ch.IsActive()

	m.mu.Lock()
	ready := m.ready
	lagging := m.liveness.lagging(ready, m.now())
	m.mu.Unlock()

	switch {
	case lagging:
		return StateLagging
	case connected && ready:
		return StateReady
	case connected:
		return StateWaitingForHeartbeat
	case active:
		return StateConnecting
	default:
		return StateDisconnected
	}
}

// KnownAgents returns the agents announced by the engine that have not expired.
func (m *Manager) KnownAgents() []registry.Agent {
	return m.peers.Agents()
}

// KnownUIDevices returns the UI devices announced by the engine that have not expired.
func (m *Manager) KnownUIDevices() []registry.UIDevice {
	return m.peers.UIDevices()
}

func (m *Manager) run(done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for m.tick() {
		<-ticker.C
	}

	m.shutdown()
}

// tick runs one iteration of the loop and reports whether the loop should
// continue.
func (m *Manager) tick() bool {
	m.mu.Lock()
	if m.stopRequested {
		m.mu.Unlock()
		return false
	}
	reset := m.resetRequested
	m.resetRequested = false
	request := m.request
	m.request = nil
	pending := m.outgoing.drain()
	m.mu.Unlock()

	if reset {
		m.log.Info("reset requested, dropping link")
		m.ch.Disconnect()
		m.setReady(false)
	}

	m.ch.Update()

	m.mu.Lock()
	connect := m.connectRequested
	m.mu.Unlock()

	if connect && !m.ensureConnected() {
		m.giveUp()
		request, pending = nil, nil
	}

	if m.ch.IsConnected() && m.isReady() {
		if request != nil {
			m.send(request, queueRequest)
		}
		for _, msg := range pending {
			m.send(msg, queueFIFO)
		}
		for _, msg := range m.dueQueued() {
			m.send(msg, queueCoalescing)
		}
	} else {
		m.requeue(request, pending)
	}

	m.publishStatus(true)
	return true
}

// ensureConnected forces a disconnect when the heartbeat is overdue and
// starts a connect attempt when the transport is inactive. It returns false
// once the retry budget is spent.
func (m *Manager) ensureConnected() bool {
	if m.isLagging() {
		m.log.Warn("no heartbeat within liveness timeout, dropping link",
			logger.F("timeout", m.cfg.LivenessTimeout.String()))
		m.metrics.livenessTimeouts.Inc()
		m.ch.Disconnect()
		m.setReady(false)

		m.mu.Lock()
		m.disconnectReason = ReasonTimedOut
		m.mu.Unlock()
		m.publishStatus(false)
	}

	if m.ch.IsActive() {
		return true
	}

	m.mu.Lock()
	if m.connectionTries > m.cfg.RetryLimit {
		m.mu.Unlock()
		return false
	}
	m.connectionTries++
	attempt := m.connectionTries
	ctx := m.ctx
	m.mu.Unlock()

	m.connect(ctx, attempt)
	m.ch.Update()
	return true
}

func (m *Manager) connect(ctx context.Context, attempt int) {
	m.metrics.connectAttempts.Inc()

	port, err := m.ports.Next(ctx)
	if err != nil {
		m.log.Warn("no local port for connect attempt", logger.Err(err), logger.F("attempt", attempt))
		return
	}

	m.log.Debug("connecting", logger.F("attempt", attempt), logger.F("local_port", port))
	if err := m.ch.Connect(m.cfg.DeviceID, port, m.cfg.RemoteHost, m.cfg.RemotePort); err != nil {
		m.log.Warn("connect attempt failed", logger.Err(err), logger.F("attempt", attempt))
	}
}

// giveUp discards all queued outbound work, which is stale by now, and waits
// for the next RequestConnect.
func (m *Manager) giveUp() {
	m.mu.Lock()
	m.connectRequested = false
	m.request = nil
	m.outgoing.clear()
	for _, q := range m.queues {
		q.pending = nil
	}
	tries := m.connectionTries
	m.mu.Unlock()

	m.metrics.giveUps.Inc()
	m.log.Warn("giving up on connection until next request", logger.F("attempts", tries))
}

// requeue returns work drained this tick that could not be sent. A request
// set since the drain takes precedence over the drained one.
func (m *Manager) requeue(request message.Message, pending []message.Message) {
	if request == nil && len(pending) == 0 {
		return
	}

	m.mu.Lock()
	if m.request == nil {
		m.request = request
	}
	dropped := m.outgoing.restore(pending)
	m.mu.Unlock()

	if dropped > 0 {
		m.log.Warn("outgoing buffer full, dropped oldest messages", logger.F("dropped", dropped))
	}
}

func (m *Manager) dueQueued() []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []message.Message
	for _, q := range m.queues {
		out = append(out, q.grabLocked(now)...)
	}

	return out
}

func (m *Manager) removeQueue(q *SendQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q.closed = true
	q.pending = nil
	for i, existing := range m.queues {
		if existing == q {
			m.queues = append(m.queues[:i:i], m.queues[i+1:]...)
			return
		}
	}
}

// publishStatus recomputes the status text and notifies handlers when it
// changed. With endOfTick set, the explicit disconnect reason is consumed.
func (m *Manager) publishStatus(endOfTick bool) {
	connected, active := m.ch.IsConnected(), m.ch.IsActive()

	m.mu.Lock()
	in := statusInputs{
		lagging:   m.liveness.lagging(m.ready, m.now()),
		connected: connected,
		ready:     m.ready,
		active:    active,
		reason:    m.disconnectReason,
	}
	if endOfTick {
		m.disconnectReason = ""
	}
	text, handlers, changed := m.status.update(in)
	m.mu.Unlock()

	if !changed {
		return
	}

	m.log.Debug("connection status", logger.F("text", text))
	for _, e := range handlers {
		e.handler(text)
	}
}

func (m *Manager) send(msg message.Message, queue string) {
	if err := m.ch.Send(msg); err != nil {
		m.metrics.sendErrors.WithLabelValues(queue).Inc()
		m.log.Warn("send failed", logger.Err(err), logger.F("tag", msg.Tag().String()), logger.F("queue", queue))
		return
	}

	m.metrics.messagesSent.WithLabelValues(queue).Inc()
}

func (m *Manager) isReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Manager) isLagging() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveness.lagging(m.ready, m.now())
}

func (m *Manager) setReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()

	m.metrics.setReady(ready)
}

// shutdown disconnects and waits up to ShutdownDrainTimeout for the
// transport to flush. Leftover queued work is discarded with the session.
func (m *Manager) shutdown() {
	m.ch.Disconnect()

	timer := time.NewTimer(m.cfg.ShutdownDrainTimeout)
	defer timer.Stop()
	poll := time.NewTicker(drainPollInterval)
	defer poll.Stop()

drain:
	for {
		m.ch.Update()
		if !m.ch.HasPendingOperations() {
			break
		}

		select {
		case <-timer.C:
			m.log.Warn("shutdown drain timed out, transport still has pending operations",
				logger.F("timeout", m.cfg.ShutdownDrainTimeout.String()))
			break drain
		case <-poll.C:
		}
	}

	m.mu.Lock()
	m.running = false
	m.ready = false
	m.connectRequested = false
	m.request = nil
	m.outgoing.clear()
	for _, q := range m.queues {
		q.pending = nil
	}
	sessionID := m.sessionID
	m.mu.Unlock()

	m.metrics.setReady(false)
	m.publishStatus(true)
	m.log.Info("session stopped", logger.F("session", sessionID))
}
