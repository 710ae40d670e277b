package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("session: invalid config")

const (
	DefaultTickInterval         = 50 * time.Millisecond
	DefaultLivenessTimeout      = 5 * time.Second
	DefaultRetryLimit           = 3
	DefaultShutdownDrainTimeout = 2 * time.Second
	DefaultMaxPendingMessages   = 256
)

// Config holds the identity, remote endpoint, handshake parameters and timing
// of a Manager.
type Config struct {
	// DeviceID is the local identity announced to the transport.
	DeviceID string
	// RemoteHost and RemotePort locate the remote control engine.
	RemoteHost string
	RemotePort int

	// EngineHost is carried by the StartEngine handshake message. Empty means RemoteHost.
	EngineHost string
	// AgentID, AgentIP and AgentSimulated describe the agent force-registered
	// during the handshake and requested on AgentAvailable.
	AgentID        int
	AgentIP        string
	AgentSimulated bool

	// TickInterval is the period of the session loop.
	TickInterval time.Duration
	// LivenessTimeout is how long a ready session may go without a heartbeat
	// before it is considered lagging.
	LivenessTimeout time.Duration
	// RetryLimit is the number of connect retries after the first attempt
	// before the manager gives up until the next RequestConnect.
	RetryLimit int
	// ShutdownDrainTimeout bounds how long Stop waits for the transport to
	// flush pending operations.
	ShutdownDrainTimeout time.Duration
	// MaxPendingMessages caps the FIFO buffer fed by SendMessage; the oldest
	// message is dropped when it is exceeded.
	MaxPendingMessages int
}

// DefaultConfig returns a Config with the default timing and limits and no
// endpoint or identity set.
func DefaultConfig() Config {
	return Config{
		TickInterval:         DefaultTickInterval,
		LivenessTimeout:      DefaultLivenessTimeout,
		RetryLimit:           DefaultRetryLimit,
		ShutdownDrainTimeout: DefaultShutdownDrainTimeout,
		MaxPendingMessages:   DefaultMaxPendingMessages,
	}
}

// Validate reports the first problem with the config. Handshake fields are
// not validated here: an oversize address or out of range agent id only
// skips the affected handshake message.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.RemoteHost) == "":
		return fmt.Errorf("%w: remote host required", ErrInvalidConfig)
	case c.RemotePort <= 0 || c.RemotePort > 65535:
		return fmt.Errorf("%w: remote port %d out of range", ErrInvalidConfig, c.RemotePort)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	case c.LivenessTimeout <= 0:
		return fmt.Errorf("%w: liveness timeout must be positive", ErrInvalidConfig)
	case c.RetryLimit < 0:
		return fmt.Errorf("%w: retry limit must not be negative", ErrInvalidConfig)
	case c.ShutdownDrainTimeout < 0:
		return fmt.Errorf("%w: shutdown drain timeout must not be negative", ErrInvalidConfig)
	case c.MaxPendingMessages <= 0:
		return fmt.Errorf("%w: max pending messages must be positive", ErrInvalidConfig)
	}

	return nil
}

func (c Config) engineHost() string {
	if c.EngineHost != "" {
		return c.EngineHost
	}

	return c.RemoteHost
}
