// Package portalloc hands out local ports from a fixed range in rotation and
// runs an idempotent provisioning step (typically a local firewall rule) for
// the range before the first port is handed out.
package portalloc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidRange = errors.New("portalloc: invalid port range")
	ErrNoFreePort   = errors.New("portalloc: no free port in range")
)

// Provisioner prepares the host for traffic on a port range, e.g. by opening
// a firewall rule. Implementations must tolerate being called again after a
// failure.
type Provisioner interface {
	Provision(ctx context.Context, min, max int) error
}

// ProvisionFunc adapts a function to the Provisioner interface.
type ProvisionFunc func(ctx context.Context, min, max int) error

// Provision implements Provisioner.
func (f ProvisionFunc) Provision(ctx context.Context, min, max int) error {
	return f(ctx, min, max)
}

// NopProvisioner does nothing. It is the default.
var NopProvisioner Provisioner = ProvisionFunc(func(context.Context, int, int) error { return nil })

// ProbeFunc reports whether port is free to bind.
type ProbeFunc func(port int) bool

// UDPProbe reports whether a UDP socket can be bound to port right now.
func UDPProbe(port int) bool {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return false
	}

	_ = conn.Close()
	return true
}

// Allocator rotates through [min, max], returning the next port the probe
// reports as free. Safe for concurrent use.
type Allocator struct {
	min, max    int
	provisioner Provisioner
	probe       ProbeFunc

	group singleflight.Group

	mu          sync.Mutex
	next        int
	provisioned bool
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithProvisioner sets the provisioning step run once for the range.
func WithProvisioner(p Provisioner) Option {
	return func(a *Allocator) {
		if p != nil {
			a.provisioner = p
		}
	}
}

// WithProbe replaces the default UDP bind probe.
func WithProbe(p ProbeFunc) Option {
	return func(a *Allocator) {
		if p != nil {
			a.probe = p
		}
	}
}

// New creates an Allocator over the inclusive range [min, max].
//
// Parameters:
//   - min: First port of the range, must be > 0
//   - max: Last port of the range, must be >= min and <= 65535
//   - opts: Optional provisioner and probe
//
// Returns:
//   - The allocator, or an error wrapping ErrInvalidRange
func New(min, max int, opts ...Option) (*Allocator, error) {
	if min <= 0 || max > 65535 || min > max {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, min, max)
	}

	a := &Allocator{
		min:         min,
		max:         max,
		next:        min,
		provisioner: NopProvisioner,
		probe:       UDPProbe,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Range returns the inclusive bounds of the allocator.
func (a *Allocator) Range() (int, int) {
	return a.min, a.max
}

// Next returns the next free port in rotation, provisioning the range first
// if that has not yet succeeded.
//
// Returns:
//   - A port within the range
//   - A provisioning error, or ErrNoFreePort after a full rotation without a free port
func (a *Allocator) Next(ctx context.Context) (int, error) {
	if err := a.ensureProvisioned(ctx); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.max - a.min + 1
	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.max {
			a.next = a.min
		}

		if a.probe(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("%w: [%d, %d]", ErrNoFreePort, a.min, a.max)
}

// Provisioned reports whether the provisioning step has succeeded.
func (a *Allocator) Provisioned() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.provisioned
}

// ensureProvisioned runs the provisioner once; concurrent callers share the
// in-flight attempt and a failed attempt is retried by the next caller.
func (a *Allocator) ensureProvisioned(ctx context.Context) error {
	if a.Provisioned() {
		return nil
	}

	key := fmt.Sprintf("%d-%d", a.min, a.max)
	_, err, _ := a.group.Do(key, func() (interface{}, error) {
		if a.Provisioned() {
			return nil, nil
		}

		if err := a.provisioner.Provision(ctx, a.min, a.max); err != nil {
			return nil, fmt.Errorf("provision ports %s: %w", key, err)
		}

		a.mu.Lock()
		a.provisioned = true
		a.mu.Unlock()
		return nil, nil
	})

	return err
}
