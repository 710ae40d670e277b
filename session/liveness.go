package session

import "time"

// livenessMonitor tracks the last heartbeat of a ready session. Guarded by
// the Manager mutex.
type livenessMonitor struct {
	timeout       time.Duration
	lastHeartbeat time.Time
}

func (l *livenessMonitor) beat(now time.Time) {
	l.lastHeartbeat = now
}

// lagging reports whether a ready session has gone longer than the timeout
// without a heartbeat.
func (l *livenessMonitor) lagging(ready bool, now time.Time) bool {
	return ready && now.Sub(l.lastHeartbeat) > l.timeout
}
