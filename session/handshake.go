package session

import (
	"github.com/cyberinferno/agentlink/logger"
	"github.com/cyberinferno/agentlink/message"
)

// onConnected runs the handshake once the transport link is up. Both
// messages are fire-and-forget; the first heartbeat confirms them.
func (m *Manager) onConnected(sessionID string) {
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
	m.metrics.setReady(false)

	m.log.Info("transport connected, sending handshake", logger.F("remote_session", sessionID))

	if msg, err := message.NewStartEngine(m.cfg.engineHost()); err != nil {
		m.log.Warn("skipping start engine message", logger.Err(err))
	} else {
		m.send(msg, queueHandshake)
	}

	if msg, err := message.NewForceAddAgent(m.cfg.AgentID, m.cfg.AgentIP, m.cfg.AgentSimulated); err != nil {
		m.log.Warn("skipping force add agent message", logger.Err(err), logger.F("agent_id", m.cfg.AgentID))
	} else {
		m.send(msg, queueHandshake)
	}
}

func (m *Manager) onDisconnected(reason string) {
	m.log.Info("transport disconnected", logger.F("reason", reason))
	m.setReady(false)

	m.mu.Lock()
	m.disconnectReason = reason
	m.mu.Unlock()

	m.publishStatus(false)
}

// onMessage dispatches inbound messages. Unrecognized tags are ignored.
func (m *Manager) onMessage(msg message.Message) {
	switch v := msg.(type) {
	case message.AgentAvailable:
		m.peers.RecordAgent(v.AgentID, v.IP)
		reply, err := message.NewConnectToAgent(m.cfg.AgentID)
		if err != nil {
			m.log.Warn("cannot request agent", logger.Err(err))
			return
		}
		m.send(reply, queueReply)
	case message.UIDeviceAvailable:
		m.peers.RecordUIDevice(v.DeviceID)
		m.send(message.ConnectToUIDevice{DeviceID: v.DeviceID}, queueReply)
	case message.AgentStatus:
		m.onHeartbeat()
	default:
		m.log.Debug("ignoring inbound message", logger.F("tag", msg.Tag().String()))
	}
}

// onHeartbeat records liveness; the first heartbeat after connecting makes the
// session ready and sends the idle message once.
func (m *Manager) onHeartbeat() {
	if !m.ch.IsConnected() {
		return
	}

	m.mu.Lock()
	m.liveness.beat(m.now())
	first := !m.ready
	m.ready = true
	idle := m.idle
	m.mu.Unlock()

	m.metrics.heartbeats.Inc()
	if !first {
		return
	}

	m.metrics.setReady(true)
	m.log.Info("agent ready")
	if idle != nil {
		m.send(idle, queueIdle)
	}
}
