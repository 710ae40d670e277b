// Package message defines the vocabulary exchanged with the remote control
// engine: the outbound handshake and request messages, the inbound discovery
// and status notifications, and a fixed-layout binary codec for all of them.
//
// The session layer treats every Message as an opaque unit identified only by
// its Tag; field layout is owned entirely by this package.
package message

import "fmt"

// Tag identifies the kind of a Message on the wire.
type Tag uint8

const (
	TagStartEngine       Tag = 1  // outbound: start the remote engine
	TagForceAddAgent     Tag = 2  // outbound: force-register an agent
	TagConnectToAgent    Tag = 3  // outbound: attach to an available agent
	TagConnectToUIDevice Tag = 4  // outbound: attach to an available UI device
	TagAgentAvailable    Tag = 10 // inbound: an agent announced itself
	TagUIDeviceAvailable Tag = 11 // inbound: a UI device announced itself
	TagAgentStatus       Tag = 12 // inbound: periodic status, used as heartbeat
	TagPlayAnimation     Tag = 20 // outbound: play a named animation
	TagReadAnimationFile Tag = 21 // outbound: load an animation file on the engine

	// TagApplication is the first tag reserved for application-defined Raw payloads.
	TagApplication Tag = 128
)

// String returns a human-readable name for the tag.
func (t Tag) String() string {
	switch t {
	case TagStartEngine:
		return "StartEngine"
	case TagForceAddAgent:
		return "ForceAddAgent"
	case TagConnectToAgent:
		return "ConnectToAgent"
	case TagConnectToUIDevice:
		return "ConnectToUIDevice"
	case TagAgentAvailable:
		return "AgentAvailable"
	case TagUIDeviceAvailable:
		return "UIDeviceAvailable"
	case TagAgentStatus:
		return "AgentStatus"
	case TagPlayAnimation:
		return "PlayAnimation"
	case TagReadAnimationFile:
		return "ReadAnimationFile"
	}

	if t >= TagApplication {
		return fmt.Sprintf("Application(%d)", uint8(t))
	}

	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// Message is an opaque, taggable unit of data. Once a Message is handed to a
// sender it must not be mutated by the caller.
type Message interface {
	// Tag returns the wire tag of the message.
	Tag() Tag
}

// StartEngine asks the remote side to start its control engine, pointing it
// at HostAddress.
type StartEngine struct {
	HostAddress string
}

// Tag implements Message.
func (StartEngine) Tag() Tag { return TagStartEngine }

// NewStartEngine builds a StartEngine message after validating the address
// against the encoded field budget.
//
// Parameters:
//   - hostAddress: Address the engine should bind or report to
//
// Returns:
//   - The message, or an error wrapping ErrFieldTooLong
func NewStartEngine(hostAddress string) (StartEngine, error) {
	if err := ValidateAddress(hostAddress); err != nil {
		return StartEngine{}, err
	}

	return StartEngine{HostAddress: hostAddress}, nil
}

// ForceAddAgent registers an agent with the engine even if it has not been
// discovered yet.
type ForceAddAgent struct {
	AgentID   int
	IP        string
	Simulated bool
}

// Tag implements Message.
func (ForceAddAgent) Tag() Tag { return TagForceAddAgent }

// NewForceAddAgent builds a ForceAddAgent message after validating the agent
// id range and the IP field length.
//
// Parameters:
//   - agentID: Agent identifier, must be within [0, 255]
//   - ip: Agent IP address
//   - simulated: Whether the agent is a simulated one
//
// Returns:
//   - The message, or an error wrapping ErrAgentIDOutOfRange or ErrFieldTooLong
func NewForceAddAgent(agentID int, ip string, simulated bool) (ForceAddAgent, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return ForceAddAgent{}, err
	}

	if err := ValidateAddress(ip); err != nil {
		return ForceAddAgent{}, err
	}

	return ForceAddAgent{AgentID: agentID, IP: ip, Simulated: simulated}, nil
}

// ConnectToAgent requests a control link to an available agent.
type ConnectToAgent struct {
	AgentID int
}

// Tag implements Message.
func (ConnectToAgent) Tag() Tag { return TagConnectToAgent }

// NewConnectToAgent builds a ConnectToAgent message for agentID.
func NewConnectToAgent(agentID int) (ConnectToAgent, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return ConnectToAgent{}, err
	}

	return ConnectToAgent{AgentID: agentID}, nil
}

// ConnectToUIDevice requests a link to an available UI device.
type ConnectToUIDevice struct {
	DeviceID string
}

// Tag implements Message.
func (ConnectToUIDevice) Tag() Tag { return TagConnectToUIDevice }

// NewConnectToUIDevice builds a ConnectToUIDevice message for deviceID.
func NewConnectToUIDevice(deviceID string) (ConnectToUIDevice, error) {
	if err := validateString("device id", deviceID, deviceIDFieldSize); err != nil {
		return ConnectToUIDevice{}, err
	}

	return ConnectToUIDevice{DeviceID: deviceID}, nil
}

// AgentAvailable is sent by the engine when an agent becomes reachable.
type AgentAvailable struct {
	AgentID int
	IP      string
}

// Tag implements Message.
func (AgentAvailable) Tag() Tag { return TagAgentAvailable }

// UIDeviceAvailable is sent by the engine when a UI device becomes reachable.
type UIDeviceAvailable struct {
	DeviceID string
}

// Tag implements Message.
func (UIDeviceAvailable) Tag() Tag { return TagUIDeviceAvailable }

// AgentStatus is the periodic status report of the controlled agent. Its
// arrival is what proves the session is alive.
type AgentStatus struct {
	AgentID int
	Mode    string
}

// Tag implements Message.
func (AgentStatus) Tag() Tag { return TagAgentStatus }

// PlayAnimation asks the engine to play a named animation sequence.
type PlayAnimation struct {
	Name string
}

// Tag implements Message.
func (PlayAnimation) Tag() Tag { return TagPlayAnimation }

// NewPlayAnimation builds a PlayAnimation message for name.
func NewPlayAnimation(name string) (PlayAnimation, error) {
	if err := validateString("animation name", name, nameFieldSize); err != nil {
		return PlayAnimation{}, err
	}

	return PlayAnimation{Name: name}, nil
}

// ReadAnimationFile asks the engine to load an animation file from Path.
type ReadAnimationFile struct {
	Path string
}

// Tag implements Message.
func (ReadAnimationFile) Tag() Tag { return TagReadAnimationFile }

// NewReadAnimationFile builds a ReadAnimationFile message for path.
func NewReadAnimationFile(path string) (ReadAnimationFile, error) {
	if err := validateString("animation path", path, nameFieldSize); err != nil {
		return ReadAnimationFile{}, err
	}

	return ReadAnimationFile{Path: path}, nil
}

// Raw carries an application-defined payload under a tag >= TagApplication.
// The payload is sent verbatim.
type Raw struct {
	Kind    Tag
	Payload []byte
}

// Tag implements Message.
func (r Raw) Tag() Tag { return r.Kind }
