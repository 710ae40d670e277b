package session

import (
	"context"
	"time"

	"github.com/cyberinferno/agentlink/logger"
	"github.com/cyberinferno/agentlink/registry"
)

// PortSource supplies the local port for each connect attempt.
// *portalloc.Allocator satisfies it.
type PortSource interface {
	Next(ctx context.Context) (int, error)
}

// ephemeralPort lets the operating system choose the local port.
type ephemeralPort struct{}

func (ephemeralPort) Next(context.Context) (int, error) { return 0, nil }

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.log = logger.OrNop(l)
	}
}

// WithPorts sets the local port source used by connect attempts.
func WithPorts(p PortSource) Option {
	return func(m *Manager) {
		if p != nil {
			m.ports = p
		}
	}
}

// WithRegistry sets the registry that records announced agents and UI devices.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.peers = r
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithClock replaces time.Now for liveness and send queue rate gating.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
