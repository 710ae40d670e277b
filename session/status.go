package session

// Connection status texts published through OnConnectionTextUpdate.
const (
	StatusLagging      = "[Lagging]"
	StatusConnected    = "[Connected]"
	StatusWaiting      = "[Waiting for Robot...]"
	StatusConnecting   = "[Connecting...]"
	StatusDisconnected = "[Disconnected]"

	// ReasonTimedOut is published when the liveness timeout forces a disconnect.
	ReasonTimedOut = "Disconnected: State Timed Out"
)

// State is the derived state of a session.
type State int

const (
	StateDisconnected        State = iota // no link, no attempt in progress
	StateConnecting                       // transport is active but not connected
	StateWaitingForHeartbeat              // connected, handshake sent, no heartbeat yet
	StateReady                            // heartbeat seen, queues are flushed
	StateLagging                          // ready but the heartbeat is overdue
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateWaitingForHeartbeat:
		return "WaitingForHeartbeat"
	case StateReady:
		return "Ready"
	case StateLagging:
		return "Lagging"
	default:
		return "Unknown"
	}
}

// TextHandler receives connection status text. It may run on the session
// loop goroutine or on a transport goroutine; receivers marshal to their own
// context.
type TextHandler func(text string)

type statusInputs struct {
	lagging   bool
	connected bool
	ready     bool
	active    bool
	reason    string
}

// computeStatus applies the status precedence to in, given the last
// published text.
func computeStatus(in statusInputs, last string) string {
	switch {
	case in.lagging:
		return StatusLagging
	case in.connected && in.ready:
		return StatusConnected
	case in.connected:
		return StatusWaiting
	case in.active:
		return StatusConnecting
	case in.reason != "":
		return in.reason
	case last != StatusDisconnected:
		return StatusDisconnected
	default:
		return last
	}
}

type textHandlerEntry struct {
	id      uint64
	handler TextHandler
}

// statusPublisher remembers the last published text and the registered
// handlers. The handler slice is copied on write so a snapshot taken under
// the lock can be invoked after it is released.
type statusPublisher struct {
	last     string
	handlers []textHandlerEntry
	nextID   uint64
}

// update computes the new text and, when it changed, returns the handlers
// to notify.
func (p *statusPublisher) update(in statusInputs) (string, []textHandlerEntry, bool) {
	text := computeStatus(in, p.last)
	if text == p.last {
		return text, nil, false
	}

	p.last = text
	return text, p.handlers, true
}

func (p *statusPublisher) add(h TextHandler) uint64 {
	p.nextID++
	handlers := make([]textHandlerEntry, 0, len(p.handlers)+1)
	handlers = append(handlers, p.handlers...)
	p.handlers = append(handlers, textHandlerEntry{id: p.nextID, handler: h})
	return p.nextID
}

func (p *statusPublisher) remove(id uint64) {
	handlers := make([]textHandlerEntry, 0, len(p.handlers))
	for _, e := range p.handlers {
		if e.id != id {
			handlers = append(handlers, e)
		}
	}

	p.handlers = handlers
}
