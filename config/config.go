// Package config loads the TOML configuration of a link session. Only keys
// present in the file override the defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cyberinferno/agentlink/channel"
	"github.com/cyberinferno/agentlink/session"
)

// DefaultRegistryTTL is how long an announced agent or UI device is remembered.
const DefaultRegistryTTL = 30 * time.Second

// File is the resolved configuration of a link session.
type File struct {
	Session session.Config
	Channel channel.Config

	// PortMin and PortMax bound the local port range. Both zero means the
	// operating system picks an ephemeral port for each attempt.
	PortMin int
	PortMax int

	RegistryTTL time.Duration

	LogLevel string
	LogDir   string
}

type logSection struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

type channelSection struct {
	ConnectTimeout string `toml:"connect_timeout"`
	HelloInterval  string `toml:"hello_interval"`
	WriteTimeout   string `toml:"write_timeout"`
	ReadBufferSize int    `toml:"read_buffer_size"`
	MaxOutbound    int    `toml:"max_outbound"`
}

type fileConfig struct {
	DeviceID             string         `toml:"device_id"`
	RemoteHost           string         `toml:"remote_host"`
	RemotePort           int            `toml:"remote_port"`
	EngineHost           string         `toml:"engine_host"`
	AgentID              int            `toml:"agent_id"`
	AgentIP              string         `toml:"agent_ip"`
	AgentSimulated       bool           `toml:"agent_simulated"`
	TickInterval         string         `toml:"tick_interval"`
	LivenessTimeout      string         `toml:"liveness_timeout"`
	RetryLimit           int            `toml:"retry_limit"`
	ShutdownDrainTimeout string         `toml:"shutdown_drain_timeout"`
	MaxPendingMessages   int            `toml:"max_pending_messages"`
	PortMin              int            `toml:"port_min"`
	PortMax              int            `toml:"port_max"`
	RegistryTTL          string         `toml:"registry_ttl"`
	Log                  logSection     `toml:"log"`
	Channel              channelSection `toml:"channel"`
}

// Default returns the configuration used when a key is absent.
func Default() File {
	return File{
		Session:     session.DefaultConfig(),
		Channel:     channel.DefaultConfig(),
		RegistryTTL: DefaultRegistryTTL,
		LogLevel:    "info",
	}
}

// Load reads and resolves the TOML file at path.
//
// Parameters:
//   - path: Path of the TOML file
//
// Returns:
//   - The resolved configuration, or an error naming the offending key
func Load(path string) (File, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return File{}, fmt.Errorf("load config %s: %w", path, err)
	}

	return resolve(raw, meta)
}

// Parse resolves a configuration from TOML text.
func Parse(data string) (File, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return File{}, fmt.Errorf("parse config: %w", err)
	}

	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (File, error) {
	cfg := Default()
	s := &cfg.Session

	if meta.IsDefined("device_id") {
		s.DeviceID = strings.TrimSpace(raw.DeviceID)
	}
	if meta.IsDefined("remote_host") {
		s.RemoteHost = strings.TrimSpace(raw.RemoteHost)
	}
	if meta.IsDefined("remote_port") {
		s.RemotePort = raw.RemotePort
	}
	if meta.IsDefined("engine_host") {
		s.EngineHost = strings.TrimSpace(raw.EngineHost)
	}
	if meta.IsDefined("agent_id") {
		s.AgentID = raw.AgentID
	}
	if meta.IsDefined("agent_ip") {
		s.AgentIP = strings.TrimSpace(raw.AgentIP)
	}
	if meta.IsDefined("agent_simulated") {
		s.AgentSimulated = raw.AgentSimulated
	}
	if meta.IsDefined("retry_limit") {
		s.RetryLimit = raw.RetryLimit
	}
	if meta.IsDefined("max_pending_messages") {
		s.MaxPendingMessages = raw.MaxPendingMessages
	}
	if meta.IsDefined("port_min") {
		cfg.PortMin = raw.PortMin
	}
	if meta.IsDefined("port_max") {
		cfg.PortMax = raw.PortMax
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "dir") {
		cfg.LogDir = strings.TrimSpace(raw.Log.Dir)
	}
	if meta.IsDefined("channel", "read_buffer_size") {
		cfg.Channel.ReadBufferSize = raw.Channel.ReadBufferSize
	}
	if meta.IsDefined("channel", "max_outbound") {
		cfg.Channel.MaxOutbound = raw.Channel.MaxOutbound
	}

	durations := []struct {
		key    []string
		value  string
		target *time.Duration
	}{
		{[]string{"tick_interval"}, raw.TickInterval, &s.TickInterval},
		{[]string{"liveness_timeout"}, raw.LivenessTimeout, &s.LivenessTimeout},
		{[]string{"shutdown_drain_timeout"}, raw.ShutdownDrainTimeout, &s.ShutdownDrainTimeout},
		{[]string{"registry_ttl"}, raw.RegistryTTL, &cfg.RegistryTTL},
		{[]string{"channel", "connect_timeout"}, raw.Channel.ConnectTimeout, &cfg.Channel.ConnectTimeout},
		{[]string{"channel", "hello_interval"}, raw.Channel.HelloInterval, &cfg.Channel.HelloInterval},
		{[]string{"channel", "write_timeout"}, raw.Channel.WriteTimeout, &cfg.Channel.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return File{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.target = parsed
	}

	if err := cfg.Validate(); err != nil {
		return File{}, err
	}

	return cfg, nil
}

// Validate checks the session settings and the port range.
func (f File) Validate() error {
	if err := f.Session.Validate(); err != nil {
		return err
	}

	if f.PortMin == 0 && f.PortMax == 0 {
		return nil
	}

	if f.PortMin <= 0 || f.PortMax > 65535 || f.PortMin > f.PortMax {
		return fmt.Errorf("port range [%d, %d] is invalid", f.PortMin, f.PortMax)
	}

	return nil
}

// UsesPortRange reports whether a local port range is configured.
func (f File) UsesPortRange() bool {
	return f.PortMin != 0 || f.PortMax != 0
}
