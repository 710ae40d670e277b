// Package registry remembers the agents and UI devices announced by the
// remote engine. Entries expire after a TTL unless they are announced again.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	agentPrefix    = "agent:"
	uiDevicePrefix = "ui:"
)

// Agent is an agent announced through an availability notification.
type Agent struct {
	ID       int       `json:"id"`
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"last_seen"`
}

// UIDevice is a UI device announced through an availability notification.
type UIDevice struct {
	ID       string    `json:"id"`
	LastSeen time.Time `json:"last_seen"`
}

// Registry is a TTL store of discovered peers backed by go-cache. It is safe
// for concurrent use.
type Registry struct {
	cache *cache.Cache
	now   func() time.Time
}

// New creates a Registry whose entries live for ttl after their last
// announcement. Expired entries are purged every cleanupInterval.
//
// Parameters:
//   - ttl: Lifetime of an entry after its last announcement
//   - cleanupInterval: Interval at which expired entries are removed
//
// Returns:
//   - A new *Registry
func New(ttl, cleanupInterval time.Duration) *Registry {
	return &Registry{
		cache: cache.New(ttl, cleanupInterval),
		now:   time.Now,
	}
}

// RecordAgent stores or refreshes an agent announcement.
func (r *Registry) RecordAgent(id int, ip string) {
	r.cache.SetDefault(agentPrefix+strconv.Itoa(id), Agent{ID: id, IP: ip, LastSeen: r.now()})
}

// RecordUIDevice stores or refreshes a UI device announcement.
func (r *Registry) RecordUIDevice(id string) {
	r.cache.SetDefault(uiDevicePrefix+id, UIDevice{ID: id, LastSeen: r.now()})
}

// Agent returns the agent with the given id if it has not expired.
func (r *Registry) Agent(id int) (Agent, bool) {
	v, found := r.cache.Get(agentPrefix + strconv.Itoa(id))
	if !found {
		return Agent{}, false
	}

	a, ok := v.(Agent)
	return a, ok
}

// Agents returns the live agents ordered by id.
func (r *Registry) Agents() []Agent {
	var out []Agent
	for key, item := range r.cache.Items() {
		if !strings.HasPrefix(key, agentPrefix) {
			continue
		}
		if a, ok := item.Object.(Agent); ok {
			out = append(out, a)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UIDevices returns the live UI devices ordered by id.
func (r *Registry) UIDevices() []UIDevice {
	var out []UIDevice
	for key, item := range r.cache.Items() {
		if !strings.HasPrefix(key, uiDevicePrefix) {
			continue
		}
		if d, ok := item.Object.(UIDevice); ok {
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear forgets every entry.
func (r *Registry) Clear() {
	r.cache.Flush()
}
