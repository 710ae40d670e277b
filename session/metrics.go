package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue labels used by the messages_sent_total and send_errors_total metrics.
const (
	queueRequest    = "request"
	queueFIFO       = "fifo"
	queueCoalescing = "coalescing"
	queueHandshake  = "handshake"
	queueReply      = "reply"
	queueIdle       = "idle"
)

// Metrics holds the Prometheus collectors of a Manager.
type Metrics struct {
	connectAttempts  prometheus.Counter
	giveUps          prometheus.Counter
	livenessTimeouts prometheus.Counter
	heartbeats       prometheus.Counter
	messagesSent     *prometheus.CounterVec
	sendErrors       *prometheus.CounterVec
	ready            prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them with reg.
// A nil reg creates unregistered collectors.
//
// Parameters:
//   - reg: Registerer to register with, e.g. prometheus.DefaultRegisterer
//
// Returns:
//   - The collectors; registration panics on duplicate names like promauto does
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "agentlink", Subsystem: "session", Name: name, Help: help}
	}

	return &Metrics{
		connectAttempts:  factory.NewCounter(opts("connect_attempts_total", "Transport connect attempts")),
		giveUps:          factory.NewCounter(opts("give_ups_total", "Times the retry limit was exhausted")),
		livenessTimeouts: factory.NewCounter(opts("liveness_timeouts_total", "Disconnects forced by a missing heartbeat")),
		heartbeats:       factory.NewCounter(opts("heartbeats_total", "Heartbeat status messages received while connected")),
		messagesSent:     factory.NewCounterVec(opts("messages_sent_total", "Messages handed to the transport"), []string{"queue"}),
		sendErrors:       factory.NewCounterVec(opts("send_errors_total", "Messages the transport refused"), []string{"queue"}),
		ready: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentlink",
			Subsystem: "session",
			Name:      "ready",
			Help:      "1 while the session is ready to send",
		}),
	}
}

func (mt *Metrics) setReady(ready bool) {
	if ready {
		mt.ready.Set(1)
		return
	}

	mt.ready.Set(0)
}
