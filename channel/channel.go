// Package channel defines the transport contract the session manager drives
// and provides a UDP implementation of it. A Channel is session oriented over
// a connectionless link: it is Active while it attempts or maintains a link,
// Connected once the remote side has accepted it, and it reports everything
// it observes through notifications dispatched from Update.
package channel

import "github.com/cyberinferno/agentlink/message"

// ConnectedHandler is called when the transport-level link is established.
type ConnectedHandler func(sessionID string)

// DisconnectedHandler is called when the link is lost for a reason other
// than a local Disconnect call.
type DisconnectedHandler func(reason string)

// MessageHandler is called for every message received while connected.
type MessageHandler func(msg message.Message)

// Channel is the transport the session manager drives. Implementations must
// allow Send, the state queries and handler registration from any goroutine;
// Connect, Disconnect and Update are driven from a single goroutine.
type Channel interface {
	// Connect starts establishing a link from localPort to remoteHost:remotePort,
	// announcing localIdentity. It does not wait for the link to come up.
	Connect(localIdentity string, localPort int, remoteHost string, remotePort int) error

	// Disconnect drops the current link. Pending goodbye traffic is flushed by
	// later Update calls while HasPendingOperations reports true.
	Disconnect()

	// Update pumps I/O without blocking and dispatches notifications on the
	// calling goroutine.
	Update()

	// Send queues msg for delivery on the current link.
	Send(msg message.Message) error

	// IsActive reports whether the channel is attempting or maintaining a link.
	IsActive() bool

	// IsConnected reports whether the link is established.
	IsConnected() bool

	// HasPendingOperations reports whether outbound work is not yet flushed.
	HasPendingOperations() bool

	// OnConnectedToClient registers the handler for link establishment.
	// Repeated calls replace the previous handler.
	OnConnectedToClient(h ConnectedHandler)

	// OnDisconnectedFromClient registers the handler for link loss.
	// Repeated calls replace the previous handler.
	OnDisconnectedFromClient(h DisconnectedHandler)

	// OnMessageReceived registers the handler for inbound messages.
	// Repeated calls replace the previous handler.
	OnMessageReceived(h MessageHandler)
}
