// Package nmtest contains an in-memory NetworkManager for tests
package nmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
)

const subscriberBuffer = 64

// Fake implements nm.Adapter in memory
// Activations emit the events returned by OnActivate to every subscriber in order
type Fake struct {
	mu          sync.Mutex
	certDir     string
	next        int
	connections map[dbus.ObjectPath]*nm.Connection
	active      map[dbus.ObjectPath]bool
	calls       []string
	events      []chan nm.Event
	states      []chan nm.NetworkState

	// OnActivate returns the events an activation produces, nil means prepare, connect, active
	OnActivate func(c *nm.Connection, attempt int) []nm.Event
	// ImportErr fails ImportConfig
	ImportErr error
	// ActivateErr fails Activate before any event is emitted
	ActivateErr error
	// Primary is returned by PrimaryConnection when no VPN is active
	Primary *nm.Active
	// DefaultRoute is returned by DefaultRouteConnection
	DefaultRoute *nm.Active
	// TunnelGateway is returned by Gateway while a connection is active
	TunnelGateway string

	CheckAvailable bool
	CheckEnabled   bool

	attempts int
}

var _ nm.Adapter = (*Fake)(nil)

// New creates a fake with a default route connection
func New(certDir string) *Fake {
	eth := &nm.Active{Path: "/active/eth0", Connection: "/settings/eth0", ID: "Wired connection 1", Default: true}
	return &Fake{
		certDir:      certDir,
		connections:  make(map[dbus.ObjectPath]*nm.Connection),
		active:       make(map[dbus.ObjectPath]bool),
		Primary:      eth,
		DefaultRoute: eth,
	}
}

func (f *Fake) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// Calls returns the mutating calls in order
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Connections returns copies of the stored connections
func (f *Fake) Connections() []*nm.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*nm.Connection, 0, len(f.connections))
	for i := 1; i <= f.next; i++ {
		if c, ok := f.connections[pathOf(i)]; ok {
			out = append(out, c.Clone())
		}
	}
	return out
}

// IsActive returns whether the connection at path is active
func (f *Fake) IsActive(path dbus.ObjectPath) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[path]
}

// Attempts returns how many activations were requested
func (f *Fake) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func pathOf(i int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/NetworkManager/Settings/%d", i))
}

// ImportConfig implements nm.Adapter
func (f *Fake) ImportConfig(path string) (*nm.Connection, error) {
	f.mu.Lock()
	err := f.ImportErr
	f.mu.Unlock()
	if err != nil {
		return nil, &nm.ImportError{Path: path, Err: err}
	}
	return nm.ImportOpenVPN(path, f.certDir)
}

// AddConnection implements nm.Adapter
func (f *Fake) AddConnection(_ context.Context, c *nm.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	c.Path = pathOf(f.next)
	f.connections[c.Path] = c.Clone()
	f.record("add %s", c.ID)
	return nil
}

// Activate implements nm.Adapter
func (f *Fake) Activate(_ context.Context, c *nm.Connection, _ *nm.Active) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	f.record("activate %s", c.ID)
	if f.ActivateErr != nil {
		return f.ActivateErr
	}
	if _, ok := f.connections[c.Path]; !ok {
		return fmt.Errorf("unknown connection %s", c.Path)
	}
	events := []nm.Event{
		{State: nm.VPNStatePrepare, Reason: nm.ReasonNone},
		{State: nm.VPNStateConnect, Reason: nm.ReasonNone},
		{State: nm.VPNStateActive, Reason: nm.ReasonNone},
	}
	if f.OnActivate != nil {
		events = f.OnActivate(c, f.attempts)
	}
	for _, ev := range events {
		f.active[c.Path] = ev.State == nm.VPNStateActive
		f.emitLocked(ev)
	}
	return nil
}

// Deactivate implements nm.Adapter
func (f *Fake) Deactivate(_ context.Context, c *nm.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("deactivate %s", c.ID)
	if !f.active[c.Path] {
		return nil
	}
	f.active[c.Path] = false
	f.emitLocked(nm.Event{State: nm.VPNStateDisconnected, Reason: nm.ReasonUserDisconnected})
	return nil
}

// Delete implements nm.Adapter
func (f *Fake) Delete(_ context.Context, c *nm.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connections[c.Path]; !ok {
		return fmt.Errorf("unknown connection %s", c.Path)
	}
	f.record("delete %s", c.ID)
	delete(f.connections, c.Path)
	delete(f.active, c.Path)
	return nil
}

// FindConnection implements nm.Adapter
func (f *Fake) FindConnection(_ context.Context, scope nm.Scope) (*nm.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 1; i <= f.next; i++ {
		p := pathOf(i)
		c, ok := f.connections[p]
		if !ok || c.Device() != nm.VirtualDevice {
			continue
		}
		if scope == nm.ScopeActive && !f.active[p] {
			continue
		}
		return c.Clone(), nil
	}
	return nil, nil
}

// Emit sends a VPN event to every subscriber
func (f *Fake) Emit(ev nm.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLocked(ev)
}

func (f *Fake) emitLocked(ev nm.Event) {
	for _, ch := range f.events {
		ch <- ev
	}
}

// EmitNetwork sends a network state to every subscriber
func (f *Fake) EmitNetwork(s nm.NetworkState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.states {
		ch <- s
	}
}

// Events implements nm.Adapter
func (f *Fake) Events(ctx context.Context) (<-chan nm.Event, error) {
	ch := make(chan nm.Event, subscriberBuffer)
	f.mu.Lock()
	f.events = append(f.events, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.events {
			if c == ch {
				f.events = append(f.events[:i], f.events[i+1:]...)
				break
			}
		}
	}()
	return ch, nil
}

// NetworkStates implements nm.Adapter
func (f *Fake) NetworkStates(ctx context.Context) (<-chan nm.NetworkState, error) {
	ch := make(chan nm.NetworkState, subscriberBuffer)
	f.mu.Lock()
	f.states = append(f.states, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.states {
			if c == ch {
				f.states = append(f.states[:i], f.states[i+1:]...)
				break
			}
		}
	}()
	return ch, nil
}

// PrimaryConnection implements nm.Adapter
// An active connection with our virtual device is primary
func (f *Fake) PrimaryConnection(_ context.Context) (*nm.Active, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, on := range f.active {
		if on {
			c := f.connections[p]
			return &nm.Active{Path: "/active/vpn", Connection: p, ID: c.ID, VPN: true, Device: c.Device()}, nil
		}
	}
	return f.Primary, nil
}

// DefaultRouteConnection implements nm.Adapter
func (f *Fake) DefaultRouteConnection(_ context.Context) (*nm.Active, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DefaultRoute, nil
}

// Gateway implements nm.Adapter
func (f *Fake) Gateway(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, on := range f.active {
		if on {
			return f.TunnelGateway, nil
		}
	}
	return "", nil
}

// ConnectivityCheck implements nm.Adapter
func (f *Fake) ConnectivityCheck(_ context.Context) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CheckAvailable, f.CheckEnabled, nil
}

// SetConnectivityCheck implements nm.Adapter
func (f *Fake) SetConnectivityCheck(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.CheckAvailable {
		return nm.ErrConnectivityCheckUnavailable
	}
	f.record("connectivity-check %t", enabled)
	f.CheckEnabled = enabled
	return nil
}
