package session

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/agentlink/channel"
	"github.com/cyberinferno/agentlink/logger"
	"github.com/cyberinferno/agentlink/message"
)

type connectCall struct {
	identity   string
	localPort  int
	remoteHost string
	remotePort int
}

// fakeChannel is a scriptable channel.Channel. Handlers are always invoked
// without holding its lock.
type fakeChannel struct {
	mu                sync.Mutex
	active            bool
	connected         bool
	activateOnConnect bool
	alwaysPending     bool
	connectErr        error
	sendErr           error
	connects          []connectCall
	disconnects       int
	updates           int
	sent              []message.Message

	onConnected    channel.ConnectedHandler
	onDisconnected channel.DisconnectedHandler
	onMessage      channel.MessageHandler
}

var _ channel.Channel = (*fakeChannel)(nil)

func (f *fakeChannel) Connect(identity string, localPort int, remoteHost string, remotePort int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects = append(f.connects, connectCall{identity, localPort, remoteHost, remotePort})
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.activateOnConnect {
		f.active = true
	}
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.active = false
	f.connected = false
}

func (f *fakeChannel) Update() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
}

func (f *fakeChannel) Send(msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) HasPendingOperations() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alwaysPending
}

func (f *fakeChannel) OnConnectedToClient(h channel.ConnectedHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnected = h
}

func (f *fakeChannel) OnDisconnectedFromClient(h channel.DisconnectedHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnected = h
}

func (f *fakeChannel) OnMessageReceived(h channel.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = h
}

// establish marks the link connected and raises ConnectedToClient.
func (f *fakeChannel) establish() {
	f.mu.Lock()
	f.active, f.connected = true, true
	h := f.onConnected
	f.mu.Unlock()
	h("remote-1")
}

func (f *fakeChannel) drop(reason string) {
	f.mu.Lock()
	f.active, f.connected = false, false
	h := f.onDisconnected
	f.mu.Unlock()
	h(reason)
}

func (f *fakeChannel) deliver(msg message.Message) {
	f.mu.Lock()
	h := f.onMessage
	f.mu.Unlock()
	h(msg)
}

func (f *fakeChannel) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeChannel) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeChannel) sentMessages() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.sent...)
}

func (f *fakeChannel) resetSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// syncBuffer is a bytes.Buffer safe for a logger writing from the loop goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DeviceID = "tool-01"
	cfg.RemoteHost = "10.0.0.1"
	cfg.RemotePort = 9500
	cfg.EngineHost = "10.0.0.2"
	cfg.AgentID = 7
	cfg.AgentIP = "10.0.0.7"
	return cfg
}

type harness struct {
	m     *Manager
	ch    *fakeChannel
	clock *fakeClock
	logs  *syncBuffer
	texts *[]string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	ch := &fakeChannel{activateOnConnect: true}
	clock := newFakeClock()
	logs := &syncBuffer{}
	log := logger.NewZerologLogger(zerolog.New(logs), "test", zerolog.DebugLevel)

	m, err := NewManager(cfg, ch, WithLogger(log), WithClock(clock.Now))
	require.NoError(t, err)

	var mu sync.Mutex
	texts := []string{}
	m.OnConnectionTextUpdate(func(text string) {
		mu.Lock()
		defer mu.Unlock()
		texts = append(texts, text)
	})

	return &harness{m: m, ch: ch, clock: clock, logs: logs, texts: &texts}
}

// makeReady connects the fake link and delivers the first heartbeat.
func (h *harness) makeReady() {
	h.m.RequestConnect()
	h.m.tick()
	h.ch.establish()
	h.ch.deliver(message.AgentStatus{AgentID: 7, Mode: "idle"})
	h.ch.resetSent()
}

func (h *harness) lastText() string {
	if len(*h.texts) == 0 {
		return ""
	}
	return (*h.texts)[len(*h.texts)-1]
}
