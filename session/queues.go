package session

import (
	"time"

	"github.com/eapache/queue"

	"github.com/cyberinferno/agentlink/message"
)

// fifoBuffer is the ordered outgoing buffer fed by SendMessage. It holds at
// most limit messages; pushing beyond that drops the oldest. Not safe for
// concurrent use; the Manager guards it with its mutex.
type fifoBuffer struct {
	q     *queue.Queue
	limit int
}

func newFIFOBuffer(limit int) *fifoBuffer {
	return &fifoBuffer{q: queue.New(), limit: limit}
}

// push appends msg and reports how many old messages were dropped.
func (b *fifoBuffer) push(msg message.Message) int {
	dropped := 0
	for b.q.Length() >= b.limit {
		b.q.Remove()
		dropped++
	}

	b.q.Add(msg)
	return dropped
}

// drain removes and returns every message in submission order.
func (b *fifoBuffer) drain() []message.Message {
	if b.q.Length() == 0 {
		return nil
	}

	out := make([]message.Message, 0, b.q.Length())
	for b.q.Length() > 0 {
		out = append(out, b.q.Remove().(message.Message))
	}

	return out
}

// restore puts msgs back in front of anything pushed since they were drained,
// keeping the newest messages if the limit is exceeded. It returns the number
// dropped.
func (b *fifoBuffer) restore(msgs []message.Message) int {
	if len(msgs) == 0 {
		return 0
	}

	all := append(msgs, b.drain()...)
	dropped := 0
	if len(all) > b.limit {
		dropped = len(all) - b.limit
		all = all[dropped:]
	}

	for _, m := range all {
		b.q.Add(m)
	}

	return dropped
}

func (b *fifoBuffer) clear() {
	b.q = queue.New()
}

func (b *fifoBuffer) len() int {
	return b.q.Length()
}

// SendQueue is a coalescing, rate-gated outbound slot created by
// Manager.CreateSendQueue. It holds at most one pending payload: every Send
// replaces the previous one, and the Manager drains it at most once per
// refresh interval. Safe for concurrent use.
type SendQueue struct {
	owner    *Manager
	interval time.Duration

	// guarded by owner.mu
	pending   []message.Message
	lastDrain time.Time
	closed    bool
}

// Send replaces the pending payload with msg and asks the owning Manager to
// connect.
//
// Parameters:
//   - msg: The message to send; must not be mutated afterwards
func (q *SendQueue) Send(msg message.Message) {
	q.SendBatch(msg)
}

// SendBatch replaces the pending payload with an ordered batch and asks the
// owning Manager to connect. The batch is sent in order within one drain.
//
// Parameters:
//   - msgs: The messages to send; must not be mutated afterwards
func (q *SendQueue) SendBatch(msgs ...message.Message) {
	batch := append([]message.Message(nil), msgs...)

	q.owner.mu.Lock()
	if q.closed {
		q.owner.mu.Unlock()
		return
	}
	q.pending = batch
	q.owner.mu.Unlock()

	q.owner.RequestConnect()
}

// Clear empties the slot without any other side effect.
func (q *SendQueue) Clear() {
	q.owner.mu.Lock()
	defer q.owner.mu.Unlock()
	q.pending = nil
}

// Pending returns the number of messages waiting in the slot.
func (q *SendQueue) Pending() int {
	q.owner.mu.Lock()
	defer q.owner.mu.Unlock()
	return len(q.pending)
}

// Close detaches the slot from its Manager and discards its content. Later
// sends are ignored.
func (q *SendQueue) Close() {
	q.owner.removeQueue(q)
}

// grabLocked returns the pending payload if the refresh interval has elapsed
// since the last successful drain; caller must hold owner.mu.
func (q *SendQueue) grabLocked(now time.Time) []message.Message {
	if len(q.pending) == 0 || now.Sub(q.lastDrain) < q.interval {
		return nil
	}

	out := q.pending
	q.pending = nil
	q.lastDrain = now
	return out
}
