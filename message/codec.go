package message

import "fmt"

// Encode serializes m as a tag byte followed by its fixed-layout fields.
// String fields are validated against their field sizes before encoding.
//
// Parameters:
//   - m: The message to encode
//
// Returns:
//   - The encoded bytes
//   - An error if a field does not fit or the message type is not known
func Encode(m Message) ([]byte, error) {
	b := []byte{byte(m.Tag())}

	switch v := m.(type) {
	case StartEngine:
		if err := ValidateAddress(v.HostAddress); err != nil {
			return nil, err
		}
		b = putString(b, v.HostAddress, addressFieldSize)
	case ForceAddAgent:
		if err := ValidateAgentID(v.AgentID); err != nil {
			return nil, err
		}
		if err := ValidateAddress(v.IP); err != nil {
			return nil, err
		}
		b = append(b, byte(v.AgentID))
		b = putString(b, v.IP, addressFieldSize)
		b = append(b, boolByte(v.Simulated))
	case ConnectToAgent:
		if err := ValidateAgentID(v.AgentID); err != nil {
			return nil, err
		}
		b = append(b, byte(v.AgentID))
	case ConnectToUIDevice:
		if err := validateString("device id", v.DeviceID, deviceIDFieldSize); err != nil {
			return nil, err
		}
		b = putString(b, v.DeviceID, deviceIDFieldSize)
	case AgentAvailable:
		if err := ValidateAgentID(v.AgentID); err != nil {
			return nil, err
		}
		if err := ValidateAddress(v.IP); err != nil {
			return nil, err
		}
		b = append(b, byte(v.AgentID))
		b = putString(b, v.IP, addressFieldSize)
	case UIDeviceAvailable:
		if err := validateString("device id", v.DeviceID, deviceIDFieldSize); err != nil {
			return nil, err
		}
		b = putString(b, v.DeviceID, deviceIDFieldSize)
	case AgentStatus:
		if err := ValidateAgentID(v.AgentID); err != nil {
			return nil, err
		}
		if err := validateString("mode", v.Mode, modeFieldSize); err != nil {
			return nil, err
		}
		b = append(b, byte(v.AgentID))
		b = putString(b, v.Mode, modeFieldSize)
	case PlayAnimation:
		if err := validateString("animation name", v.Name, nameFieldSize); err != nil {
			return nil, err
		}
		b = putString(b, v.Name, nameFieldSize)
	case ReadAnimationFile:
		if err := validateString("animation path", v.Path, nameFieldSize); err != nil {
			return nil, err
		}
		b = putString(b, v.Path, nameFieldSize)
	case Raw:
		if v.Kind < TagApplication {
			return nil, fmt.Errorf("%w: raw payload uses reserved tag %d", ErrUnknownTag, uint8(v.Kind))
		}
		b = append(b, v.Payload...)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, m)
	}

	return b, nil
}

// Decode parses bytes produced by Encode. Tags at or above TagApplication
// decode into Raw; other unknown tags return ErrUnknownTag.
//
// Parameters:
//   - b: The encoded message
//
// Returns:
//   - The decoded message
//   - An error if the tag is unknown or the payload is truncated
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrShortPayload)
	}

	tag, body := Tag(b[0]), b[1:]
	if tag >= TagApplication {
		payload := make([]byte, len(body))
		copy(payload, body)
		return Raw{Kind: tag, Payload: payload}, nil
	}

	var err error
	switch tag {
	case TagStartEngine:
		var m StartEngine
		if m.HostAddress, _, err = getString(body, addressFieldSize); err != nil {
			return nil, err
		}
		return m, nil
	case TagForceAddAgent:
		var m ForceAddAgent
		var id, sim byte
		if id, body, err = getByte(body); err != nil {
			return nil, err
		}
		if m.IP, body, err = getString(body, addressFieldSize); err != nil {
			return nil, err
		}
		if sim, _, err = getByte(body); err != nil {
			return nil, err
		}
		m.AgentID, m.Simulated = int(id), sim != 0
		return m, nil
	case TagConnectToAgent:
		id, _, err := getByte(body)
		if err != nil {
			return nil, err
		}
		return ConnectToAgent{AgentID: int(id)}, nil
	case TagConnectToUIDevice:
		var m ConnectToUIDevice
		if m.DeviceID, _, err = getString(body, deviceIDFieldSize); err != nil {
			return nil, err
		}
		return m, nil
	case TagAgentAvailable:
		var m AgentAvailable
		var id byte
		if id, body, err = getByte(body); err != nil {
			return nil, err
		}
		if m.IP, _, err = getString(body, addressFieldSize); err != nil {
			return nil, err
		}
		m.AgentID = int(id)
		return m, nil
	case TagUIDeviceAvailable:
		var m UIDeviceAvailable
		if m.DeviceID, _, err = getString(body, deviceIDFieldSize); err != nil {
			return nil, err
		}
		return m, nil
	case TagAgentStatus:
		var m AgentStatus
		var id byte
		if id, body, err = getByte(body); err != nil {
			return nil, err
		}
		if m.Mode, _, err = getString(body, modeFieldSize); err != nil {
			return nil, err
		}
		m.AgentID = int(id)
		return m, nil
	case TagPlayAnimation:
		var m PlayAnimation
		if m.Name, _, err = getString(body, nameFieldSize); err != nil {
			return nil, err
		}
		return m, nil
	case TagReadAnimationFile:
		var m ReadAnimationFile
		if m.Path, _, err = getString(body, nameFieldSize); err != nil {
			return nil, err
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(tag))
}
