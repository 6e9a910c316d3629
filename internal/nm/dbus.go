package nm

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
)

const (
	busName          = "org.freedesktop.NetworkManager"
	managerPath      = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	settingsPath     = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")
	managerIface     = "org.freedesktop.NetworkManager"
	settingsIface    = "org.freedesktop.NetworkManager.Settings"
	connectionIface  = "org.freedesktop.NetworkManager.Settings.Connection"
	activeIface      = "org.freedesktop.NetworkManager.Connection.Active"
	vpnIface         = "org.freedesktop.NetworkManager.VPN.Connection"
	ip4ConfigIface   = "org.freedesktop.NetworkManager.IP4Config"
	propertiesGet    = "org.freedesktop.DBus.Properties.Get"
	propertiesSet    = "org.freedesktop.DBus.Properties.Set"
	signalBufferSize = 16
)

// Bus is the NetworkManager adapter on the system bus
type Bus struct {
	conn    *dbus.Conn
	certDir string

	mu   sync.Mutex
	ours map[dbus.ObjectPath]bool
}

var _ Adapter = (*Bus)(nil)

// Connect opens a private connection to the system bus
// Inline certificates of imported configurations are stored in certDir
func Connect(certDir string) (*Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed connecting to the system bus", 0)
	}
	return &Bus{conn: conn, certDir: certDir, ours: make(map[dbus.ObjectPath]bool)}, nil
}

// Close closes the bus connection
func (b *Bus) Close() error {
	return b.conn.Close()
}

func (b *Bus) object(path dbus.ObjectPath) dbus.BusObject {
	return b.conn.Object(busName, path)
}

func (b *Bus) property(ctx context.Context, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	if err := b.object(path).CallWithContext(ctx, propertiesGet, 0, iface, name).Store(&v); err != nil {
		return v, errors.WrapPrefix(err, "failed getting property "+name, 0)
	}
	return v, nil
}

func (b *Bus) paths(ctx context.Context, path dbus.ObjectPath, iface, name string) ([]dbus.ObjectPath, error) {
	v, err := b.property(ctx, path, iface, name)
	if err != nil {
		return nil, err
	}
	ps, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, errors.Errorf("property %s is not a list of object paths", name)
	}
	return ps, nil
}

// ImportConfig implements Adapter
func (b *Bus) ImportConfig(path string) (*Connection, error) {
	return ImportOpenVPN(path, b.certDir)
}

// AddConnection implements Adapter
func (b *Bus) AddConnection(ctx context.Context, c *Connection) error {
	s, err := toSettings(c)
	if err != nil {
		return err
	}
	var p dbus.ObjectPath
	if err = b.object(settingsPath).CallWithContext(ctx, settingsIface+".AddConnection", 0, s).Store(&p); err != nil {
		return errors.WrapPrefix(err, "failed adding connection "+c.ID, 0)
	}
	c.Path = p
	return nil
}

// Activate implements Adapter
func (b *Bus) Activate(ctx context.Context, c *Connection, base *Active) error {
	if c.Path == "" {
		return errors.New("cannot activate a connection that was not added")
	}
	specific := dbus.ObjectPath("/")
	if base != nil {
		specific = base.Path
	}
	var active dbus.ObjectPath
	err := b.object(managerPath).CallWithContext(ctx, managerIface+".ActivateConnection", 0, c.Path, dbus.ObjectPath("/"), specific).Store(&active)
	if err != nil {
		return errors.WrapPrefix(err, "failed activating connection "+c.ID, 0)
	}
	b.mu.Lock()
	b.ours[active] = true
	b.mu.Unlock()
	return nil
}

func (b *Bus) activeFor(ctx context.Context, c *Connection) (*Active, error) {
	actives, err := b.actives(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range actives {
		if a.Connection == c.Path {
			return a, nil
		}
	}
	return nil, nil
}

// Deactivate implements Adapter
func (b *Bus) Deactivate(ctx context.Context, c *Connection) error {
	a, err := b.activeFor(ctx, c)
	if err != nil {
		return err
	}
	if a == nil {
		log.Logger.Debugf("Connection %s is not active", c.ID)
		return nil
	}
	if err = b.object(managerPath).CallWithContext(ctx, managerIface+".DeactivateConnection", 0, a.Path).Err; err != nil {
		return errors.WrapPrefix(err, "failed deactivating connection "+c.ID, 0)
	}
	return nil
}

// Delete implements Adapter
func (b *Bus) Delete(ctx context.Context, c *Connection) error {
	if err := b.object(c.Path).CallWithContext(ctx, connectionIface+".Delete", 0).Err; err != nil {
		return errors.WrapPrefix(err, "failed deleting connection "+c.ID, 0)
	}
	return nil
}

func (b *Bus) connection(ctx context.Context, path dbus.ObjectPath) (*Connection, bool, error) {
	var s Settings
	if err := b.object(path).CallWithContext(ctx, connectionIface+".GetSettings", 0).Store(&s); err != nil {
		return nil, false, errors.WrapPrefix(err, "failed getting settings of "+string(path), 0)
	}
	c, ok := fromSettings(path, s)
	return c, ok, nil
}

// FindConnection implements Adapter
func (b *Bus) FindConnection(ctx context.Context, scope Scope) (*Connection, error) {
	var candidates []dbus.ObjectPath
	if scope == ScopeActive {
		actives, err := b.actives(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range actives {
			if a.VPN {
				candidates = append(candidates, a.Connection)
			}
		}
	} else {
		if err := b.object(settingsPath).CallWithContext(ctx, settingsIface+".ListConnections", 0).Store(&candidates); err != nil {
			return nil, errors.WrapPrefix(err, "failed listing connections", 0)
		}
	}
	for _, p := range candidates {
		c, ok, err := b.connection(ctx, p)
		if err != nil {
			// connections can disappear while listing
			log.Logger.Debugf("Skipping connection %s: %v", p, err)
			continue
		}
		if ok && c.Device() == VirtualDevice {
			return c, nil
		}
	}
	return nil, nil
}

func (b *Bus) active(ctx context.Context, path dbus.ObjectPath) (*Active, error) {
	a := &Active{Path: path}
	conn, err := b.property(ctx, path, activeIface, "Connection")
	if err != nil {
		return nil, err
	}
	a.Connection, _ = conn.Value().(dbus.ObjectPath)
	id, err := b.property(ctx, path, activeIface, "Id")
	if err != nil {
		return nil, err
	}
	a.ID, _ = id.Value().(string)
	vpn, err := b.property(ctx, path, activeIface, "Vpn")
	if err != nil {
		return nil, err
	}
	a.VPN, _ = vpn.Value().(bool)
	def, err := b.property(ctx, path, activeIface, "Default")
	if err != nil {
		return nil, err
	}
	a.Default, _ = def.Value().(bool)
	if a.VPN {
		c, ok, err := b.connection(ctx, a.Connection)
		if err != nil {
			return nil, err
		}
		if ok {
			a.Device = c.Device()
		}
	}
	return a, nil
}

func (b *Bus) actives(ctx context.Context) ([]*Active, error) {
	ps, err := b.paths(ctx, managerPath, managerIface, "ActiveConnections")
	if err != nil {
		return nil, err
	}
	var out []*Active
	for _, p := range ps {
		a, err := b.active(ctx, p)
		if err != nil {
			log.Logger.Debugf("Skipping active connection %s: %v", p, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// PrimaryConnection implements Adapter
func (b *Bus) PrimaryConnection(ctx context.Context) (*Active, error) {
	v, err := b.property(ctx, managerPath, managerIface, "PrimaryConnection")
	if err != nil {
		return nil, err
	}
	p, _ := v.Value().(dbus.ObjectPath)
	if p == "" || p == "/" {
		return nil, nil
	}
	return b.active(ctx, p)
}

// DefaultRouteConnection implements Adapter
func (b *Bus) DefaultRouteConnection(ctx context.Context) (*Active, error) {
	actives, err := b.actives(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range actives {
		if a.Default && !a.VPN {
			return a, nil
		}
	}
	return nil, nil
}

// Gateway implements Adapter
func (b *Bus) Gateway(ctx context.Context) (string, error) {
	actives, err := b.actives(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range actives {
		if !a.VPN || a.Device != VirtualDevice {
			continue
		}
		v, err := b.property(ctx, a.Path, activeIface, "Ip4Config")
		if err != nil {
			return "", err
		}
		p, _ := v.Value().(dbus.ObjectPath)
		if p == "" || p == "/" {
			return "", nil
		}
		gw, err := b.property(ctx, p, ip4ConfigIface, "Gateway")
		if err != nil {
			return "", err
		}
		s, _ := gw.Value().(string)
		return s, nil
	}
	return "", nil
}

// isOurs returns whether the active connection carries our virtual device
func (b *Bus) isOurs(ctx context.Context, path dbus.ObjectPath) bool {
	b.mu.Lock()
	ours, known := b.ours[path]
	b.mu.Unlock()
	if known {
		return ours
	}
	a, err := b.active(ctx, path)
	if err != nil {
		log.Logger.Debugf("Could not resolve active connection %s: %v", path, err)
		return false
	}
	ours = a.VPN && a.Device == VirtualDevice
	b.mu.Lock()
	b.ours[path] = ours
	b.mu.Unlock()
	return ours
}

// subscribe delivers the signals matching opts until ctx is done
func (b *Bus) subscribe(ctx context.Context, name string, opts ...dbus.MatchOption) (<-chan *dbus.Signal, error) {
	if err := b.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return nil, errors.WrapPrefix(err, "failed subscribing to "+name, 0)
	}
	raw := make(chan *dbus.Signal, signalBufferSize)
	b.conn.Signal(raw)
	out := make(chan *dbus.Signal, signalBufferSize)
	go func() {
		defer close(out)
		defer func() {
			b.conn.RemoveSignal(raw)
			if err := b.conn.RemoveMatchSignal(opts...); err != nil {
				log.Logger.Debugf("failed removing match for %s: %v", name, err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-raw:
				if !ok {
					return
				}
				if s.Name != name {
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Events implements Adapter
func (b *Bus) Events(ctx context.Context) (<-chan Event, error) {
	sigs, err := b.subscribe(ctx, vpnIface+".VpnStateChanged",
		dbus.WithMatchInterface(vpnIface), dbus.WithMatchMember("VpnStateChanged"))
	if err != nil {
		return nil, err
	}
	out := make(chan Event, signalBufferSize)
	go func() {
		defer close(out)
		for s := range sigs {
			if len(s.Body) != 2 || !b.isOurs(ctx, s.Path) {
				continue
			}
			state, _ := s.Body[0].(uint32)
			reason, _ := s.Body[1].(uint32)
			select {
			case out <- Event{State: VPNState(state), Reason: VPNReason(reason)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// NetworkStates implements Adapter
func (b *Bus) NetworkStates(ctx context.Context) (<-chan NetworkState, error) {
	sigs, err := b.subscribe(ctx, managerIface+".StateChanged",
		dbus.WithMatchObjectPath(managerPath), dbus.WithMatchInterface(managerIface), dbus.WithMatchMember("StateChanged"))
	if err != nil {
		return nil, err
	}
	out := make(chan NetworkState, signalBufferSize)
	go func() {
		defer close(out)
		for s := range sigs {
			if len(s.Body) != 1 {
				continue
			}
			state, _ := s.Body[0].(uint32)
			select {
			case out <- NetworkState(state):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ConnectivityCheck implements Adapter
func (b *Bus) ConnectivityCheck(ctx context.Context) (bool, bool, error) {
	av, err := b.property(ctx, managerPath, managerIface, "ConnectivityCheckAvailable")
	if err != nil {
		return false, false, err
	}
	en, err := b.property(ctx, managerPath, managerIface, "ConnectivityCheckEnabled")
	if err != nil {
		return false, false, err
	}
	available, _ := av.Value().(bool)
	enabled, _ := en.Value().(bool)
	return available, enabled, nil
}

// SetConnectivityCheck implements Adapter
func (b *Bus) SetConnectivityCheck(ctx context.Context, enabled bool) error {
	err := b.object(managerPath).CallWithContext(ctx, propertiesSet, 0, managerIface, "ConnectivityCheckEnabled", dbus.MakeVariant(enabled)).Err
	if err != nil {
		return errors.WrapPrefix(err, "failed setting the connectivity check", 0)
	}
	return nil
}
