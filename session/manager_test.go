package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/agentlink/message"
)

func TestNewManager(t *testing.T) {
	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.RemotePort = 0
		_, err := NewManager(cfg, &fakeChannel{})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("requires a channel", func(t *testing.T) {
		_, err := NewManager(testConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("registers handlers on the channel", func(t *testing.T) {
		ch := &fakeChannel{}
		_, err := NewManager(testConfig(), ch)
		require.NoError(t, err)
		assert.NotNil(t, ch.onConnected)
		assert.NotNil(t, ch.onDisconnected)
		assert.NotNil(t, ch.onMessage)
	})
}

func TestManager_RetryBound(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ch.activateOnConnect = false

	q := h.m.CreateSendQueue(0)
	q.Send(message.PlayAnimation{Name: "pose"})
	h.m.SendMessage(message.Raw{Kind: 200})
	require.NoError(t, h.m.SendAnimation("wave"))

	for i := 0; i < DefaultRetryLimit+1; i++ {
		h.m.tick()
	}
	assert.Equal(t, DefaultRetryLimit+1, h.ch.connectCount())

	h.m.tick()
	assert.Equal(t, DefaultRetryLimit+1, h.ch.connectCount(), "gives up without another attempt")

	h.m.mu.Lock()
	assert.Nil(t, h.m.request)
	assert.Zero(t, h.m.outgoing.len())
	assert.False(t, h.m.connectRequested)
	h.m.mu.Unlock()
	assert.Zero(t, q.Pending())

	h.m.tick()
	assert.Equal(t, DefaultRetryLimit+1, h.ch.connectCount(), "stays idle until the next request")

	h.m.RequestConnect()
	h.m.tick()
	assert.Equal(t, DefaultRetryLimit+2, h.ch.connectCount())
}

func TestManager_ConnectArguments(t *testing.T) {
	h := newHarness(t, testConfig())
	h.m.RequestConnect()
	h.m.tick()

	require.Equal(t, 1, h.ch.connectCount())
	assert.Equal(t, connectCall{"tool-01", 0, "10.0.0.1", 9500}, h.ch.connects[0])

	h.m.tick()
	assert.Equal(t, 1, h.ch.connectCount(), "active channel is left alone")
}

func TestManager_ConnectFailureCountsAsAttempt(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ch.connectErr = errors.New("bind failed")
	h.m.RequestConnect()

	for i := 0; i < 10; i++ {
		h.m.tick()
	}

	assert.Equal(t, DefaultRetryLimit+1, h.ch.connectCount())
	assert.Contains(t, h.logs.String(), "connect attempt failed")
}

func TestManager_RequestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ch.activateOnConnect = false
	h.m.RequestConnect()
	h.m.tick()
	h.m.tick()

	h.m.RequestConnect()
	h.m.RequestConnect()
	h.m.RequestConnect()

	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	assert.Equal(t, 0, h.m.connectionTries)
	assert.True(t, h.m.connectRequested)
}

func TestManager_Handshake(t *testing.T) {
	t.Run("sends start engine then force add agent", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.ch.establish()

		assert.Equal(t, []message.Message{
			message.StartEngine{HostAddress: "10.0.0.2"},
			message.ForceAddAgent{AgentID: 7, IP: "10.0.0.7"},
		}, h.ch.sentMessages())
	})

	t.Run("engine host defaults to remote host", func(t *testing.T) {
		cfg := testConfig()
		cfg.EngineHost = ""
		h := newHarness(t, cfg)
		h.ch.establish()

		assert.Equal(t, message.StartEngine{HostAddress: "10.0.0.1"}, h.ch.sentMessages()[0])
	})

	t.Run("oversize host skips start engine with a warning", func(t *testing.T) {
		cfg := testConfig()
		cfg.EngineHost = strings.Repeat("h", message.MaxAddressLength+1)
		h := newHarness(t, cfg)
		h.ch.establish()

		assert.Equal(t, []message.Message{message.ForceAddAgent{AgentID: 7, IP: "10.0.0.7"}}, h.ch.sentMessages())
		assert.Contains(t, h.logs.String(), "skipping start engine message")
	})

	t.Run("agent id out of range skips force add agent", func(t *testing.T) {
		cfg := testConfig()
		cfg.AgentID = 256
		h := newHarness(t, cfg)
		h.ch.establish()

		assert.Equal(t, []message.Message{message.StartEngine{HostAddress: "10.0.0.2"}}, h.ch.sentMessages())
		assert.Contains(t, h.logs.String(), "skipping force add agent message")
	})
}

func TestManager_InboundDispatch(t *testing.T) {
	t.Run("agent available requests the configured agent", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.ch.deliver(message.AgentAvailable{AgentID: 3, IP: "10.0.0.3"})

		assert.Equal(t, []message.Message{message.ConnectToAgent{AgentID: 7}}, h.ch.sentMessages())
		agents := h.m.KnownAgents()
		require.Len(t, agents, 1)
		assert.Equal(t, 3, agents[0].ID)
	})

	t.Run("ui device available requests that device", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.ch.deliver(message.UIDeviceAvailable{DeviceID: "tablet"})

		assert.Equal(t, []message.Message{message.ConnectToUIDevice{DeviceID: "tablet"}}, h.ch.sentMessages())
		require.Len(t, h.m.KnownUIDevices(), 1)
	})

	t.Run("unknown messages are ignored", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.ch.deliver(message.Raw{Kind: 201, Payload: []byte("x")})
		h.ch.deliver(message.PlayAnimation{Name: "echo"})

		assert.Empty(t, h.ch.sentMessages())
		assert.Equal(t, StateDisconnected, h.m.State())
	})
}

func TestManager_Heartbeat(t *testing.T) {
	t.Run("first heartbeat makes the session ready and sends idle once", func(t *testing.T) {
		h := newHarness(t, testConfig())
		idle := message.PlayAnimation{Name: "breathe"}
		h.m.SetIdleMessage(idle)
		assert.Empty(t, h.ch.sentMessages(), "not sent before ready")

		h.ch.establish()
		h.ch.resetSent()
		assert.Equal(t, StateWaitingForHeartbeat, h.m.State())

		h.ch.deliver(message.AgentStatus{AgentID: 7})
		h.ch.deliver(message.AgentStatus{AgentID: 7})

		assert.Equal(t, []message.Message{idle}, h.ch.sentMessages())
		assert.Equal(t, StateReady, h.m.State())
	})

	t.Run("heartbeat while not connected is ignored", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.ch.deliver(message.AgentStatus{AgentID: 7})

		assert.False(t, h.m.isReady())
	})

	t.Run("idle message set while ready is sent immediately", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.makeReady()

		h.m.SetIdleMessage(message.PlayAnimation{Name: "breathe"})
		assert.Equal(t, []message.Message{message.PlayAnimation{Name: "breathe"}}, h.ch.sentMessages())
	})

	t.Run("reconnect sends idle again on the next first heartbeat", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.m.SetIdleMessage(message.PlayAnimation{Name: "breathe"})
		h.makeReady()

		h.ch.drop("link lost")
		h.ch.establish()
		h.ch.resetSent()
		h.ch.deliver(message.AgentStatus{AgentID: 7})

		assert.Equal(t, []message.Message{message.PlayAnimation{Name: "breathe"}}, h.ch.sentMessages())
	})
}

func TestManager_TickSendsInOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	h.makeReady()

	q := h.m.CreateSendQueue(100 * time.Millisecond)
	q.Send(message.PlayAnimation{Name: "stale"})
	q.Send(message.PlayAnimation{Name: "pose"})
	h.m.SendMessage(message.Raw{Kind: 200, Payload: []byte{1}})
	h.m.SendMessage(message.Raw{Kind: 200, Payload: []byte{2}})
	require.NoError(t, h.m.SendAnimation("first"))
	require.NoError(t, h.m.SendAnimation("wave"))

	h.m.tick()

	assert.Equal(t, []message.Message{
		message.PlayAnimation{Name: "wave"},
		message.Raw{Kind: 200, Payload: []byte{1}},
		message.Raw{Kind: 200, Payload: []byte{2}},
		message.PlayAnimation{Name: "pose"},
	}, h.ch.sentMessages())

	h.ch.resetSent()
	h.m.tick()
	assert.Empty(t, h.ch.sentMessages(), "everything was drained")
}

func TestManager_WorkWaitsUntilReady(t *testing.T) {
	h := newHarness(t, testConfig())
	h.m.SendMessage(message.Raw{Kind: 200, Payload: []byte{1}})
	require.NoError(t, h.m.ReadAnimationFile("anims/wave.json"))

	h.m.tick()
	h.ch.establish()
	h.m.tick()
	h.ch.resetSent()
	assert.Equal(t, 1, h.m.outgoing.len(), "kept while waiting for the heartbeat")

	h.ch.deliver(message.AgentStatus{AgentID: 7})
	h.m.tick()

	assert.Equal(t, []message.Message{
		message.ReadAnimationFile{Path: "anims/wave.json"},
		message.Raw{Kind: 200, Payload: []byte{1}},
	}, h.ch.sentMessages())
}

func TestManager_FIFOCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPendingMessages = 2
	h := newHarness(t, cfg)

	for i := byte(0); i < 4; i++ {
		h.m.SendMessage(message.Raw{Kind: 200, Payload: []byte{i}})
	}

	h.m.mu.Lock()
	got := h.m.outgoing.drain()
	h.m.mu.Unlock()
	assert.Equal(t, []message.Message{
		message.Raw{Kind: 200, Payload: []byte{2}},
		message.Raw{Kind: 200, Payload: []byte{3}},
	}, got)
	assert.Contains(t, h.logs.String(), "dropped oldest messages")
}

func TestManager_Liveness(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ch.activateOnConnect = false
	h.m.RequestConnect()
	h.m.tick()
	h.ch.establish()
	h.ch.deliver(message.AgentStatus{AgentID: 7})
	h.m.tick()
	require.Equal(t, StatusConnected, h.m.ConnectionText())

	h.clock.Advance(DefaultLivenessTimeout)
	assert.Equal(t, StateReady, h.m.State(), "exactly at the timeout is not lagging")

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, StateLagging, h.m.State())
	disconnects := h.ch.disconnectCount()

	h.m.tick()
	assert.Equal(t, disconnects+1, h.ch.disconnectCount())
	assert.False(t, h.m.isReady())
	assert.Equal(t, ReasonTimedOut, h.lastText())

	h.m.tick()
	assert.Equal(t, StatusDisconnected, h.lastText())
	assert.Equal(t, []string{StatusDisconnected, StatusConnected, ReasonTimedOut, StatusDisconnected}, *h.texts)
}

func TestManager_Reset(t *testing.T) {
	h := newHarness(t, testConfig())
	h.makeReady()

	h.m.Reset()
	h.m.tick()

	assert.Equal(t, 1, h.ch.disconnectCount())
	assert.False(t, h.m.isReady())
}

func TestManager_RemoteDisconnectPublishesReason(t *testing.T) {
	h := newHarness(t, testConfig())
	h.makeReady()
	h.m.tick()

	h.ch.drop("closed by remote")
	assert.Equal(t, "closed by remote", h.lastText())
	assert.False(t, h.m.isReady())
}

func TestManager_StatusPublishing(t *testing.T) {
	h := newHarness(t, testConfig())

	h.m.tick()
	h.m.tick()
	assert.Equal(t, []string{StatusDisconnected}, *h.texts, "published only on change")

	h.ch.activateOnConnect = true
	h.m.RequestConnect()
	h.m.tick()
	assert.Equal(t, StatusConnecting, h.lastText())

	h.ch.establish()
	h.m.tick()
	assert.Equal(t, StatusWaiting, h.lastText())

	h.ch.deliver(message.AgentStatus{AgentID: 7})
	h.m.tick()
	assert.Equal(t, StatusConnected, h.lastText())
	assert.Equal(t, StatusConnected, h.m.ConnectionText())
}

func TestManager_TextHandlerRemoval(t *testing.T) {
	h := newHarness(t, testConfig())

	calls := 0
	remove := h.m.OnConnectionTextUpdate(func(string) { calls++ })
	h.m.tick()
	assert.Equal(t, 1, calls)

	remove()
	remove()
	h.m.RequestConnect()
	h.m.tick()
	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusConnecting, h.lastText(), "other handlers still run")
}

func TestManager_SendErrorsAreLogged(t *testing.T) {
	h := newHarness(t, testConfig())
	h.makeReady()
	h.ch.sendErr = errors.New("queue full")

	h.m.SendMessage(message.Raw{Kind: 200})
	h.m.tick()

	assert.Contains(t, h.logs.String(), "send failed")
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ch := &fakeChannel{}
	clock := newFakeClock()
	m, err := NewManager(testConfig(), ch, WithMetrics(metrics), WithClock(clock.Now))
	require.NoError(t, err)

	m.RequestConnect()
	for i := 0; i < DefaultRetryLimit+2; i++ {
		m.tick()
	}
	assert.Equal(t, float64(DefaultRetryLimit+1), testutil.ToFloat64(metrics.connectAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.giveUps))

	ch.establish()
	ch.deliver(message.AgentStatus{AgentID: 7})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ready))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.messagesSent.WithLabelValues(queueHandshake)))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestManager_Lifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	ch := &fakeChannel{activateOnConnect: true}
	m, err := NewManager(cfg, ch)
	require.NoError(t, err)

	m.Stop()
	assert.False(t, m.Running(), "stop before start is a no-op")

	m.Start()
	m.Start()
	assert.True(t, m.Running())

	m.RequestConnect()
	assert.Eventually(t, func() bool { return ch.connectCount() == 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.False(t, m.Running())
	assert.GreaterOrEqual(t, ch.disconnectCount(), 1)
	assert.Equal(t, StatusDisconnected, m.ConnectionText())

	m.Start()
	defer m.Stop()
	m.RequestConnect()
	assert.Eventually(t, func() bool { return ch.connectCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestManager_ShutdownDrainTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	h := newHarness(t, cfg)
	h.ch.alwaysPending = true

	h.m.Start()
	start := time.Now()
	h.m.Stop()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, DefaultShutdownDrainTimeout)
	assert.Less(t, elapsed, DefaultShutdownDrainTimeout+time.Second)
	assert.Contains(t, h.logs.String(), "shutdown drain timed out")
	assert.False(t, h.m.Running())
}
