// Package nm talks to NetworkManager
// The rest of the core only sees the Adapter interface, the system bus implementation lives in dbus.go
package nm

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

// VirtualDevice is the tunnel interface that identifies our connection on the host
const VirtualDevice = "proton0"

// IDPrefix is prepended to the servername to form the connection id
const IDPrefix = "ProtonVPN "

// VPNState is the state of a VPN connection as NetworkManager reports it
type VPNState uint32

const (
	// VPNStateUnknown is the initial state
	VPNStateUnknown VPNState = iota
	// VPNStatePrepare means the connection is being prepared
	VPNStatePrepare
	// VPNStateNeedAuth means secrets are requested
	VPNStateNeedAuth
	// VPNStateConnect means the tunnel is being established
	VPNStateConnect
	// VPNStateIPConfig means the IP configuration is being retrieved
	VPNStateIPConfig
	// VPNStateActive means the tunnel is up
	VPNStateActive
	// VPNStateFailed means the tunnel could not be established or broke
	VPNStateFailed
	// VPNStateDisconnected means the tunnel is down
	VPNStateDisconnected
)

func (s VPNState) String() string {
	switch s {
	case VPNStateUnknown:
		return "unknown"
	case VPNStatePrepare:
		return "prepare"
	case VPNStateNeedAuth:
		return "need-auth"
	case VPNStateConnect:
		return "connect"
	case VPNStateIPConfig:
		return "ip-config"
	case VPNStateActive:
		return "active"
	case VPNStateFailed:
		return "failed"
	case VPNStateDisconnected:
		return "disconnected"
	default:
		return "invalid"
	}
}

// VPNReason is why a VPN connection changed state
type VPNReason uint32

// The reasons as defined by NM_VPN_CONNECTION_STATE_REASON
const (
	ReasonUnknown VPNReason = iota
	ReasonNone
	ReasonUserDisconnected
	ReasonDeviceDisconnected
	ReasonServiceStopped
	ReasonIPConfigInvalid
	ReasonConnectTimeout
	ReasonServiceStartTimeout
	ReasonServiceStartFailed
	ReasonNoSecrets
	ReasonLoginFailed
	ReasonConnectionRemoved
)

func (r VPNReason) String() string {
	switch r {
	case ReasonUnknown:
		return "unknown"
	case ReasonNone:
		return "none"
	case ReasonUserDisconnected:
		return "user disconnected"
	case ReasonDeviceDisconnected:
		return "device disconnected"
	case ReasonServiceStopped:
		return "service stopped"
	case ReasonIPConfigInvalid:
		return "ip config invalid"
	case ReasonConnectTimeout:
		return "connect timeout"
	case ReasonServiceStartTimeout:
		return "service start timeout"
	case ReasonServiceStartFailed:
		return "service start failed"
	case ReasonNoSecrets:
		return "no secrets"
	case ReasonLoginFailed:
		return "login failed"
	case ReasonConnectionRemoved:
		return "connection removed"
	default:
		return "invalid"
	}
}

// Event is a state change of our VPN connection
type Event struct {
	State  VPNState
	Reason VPNReason
}

// NetworkState is the overall state of NetworkManager
type NetworkState uint32

// StateConnectedGlobal means the host has full internet access
const StateConnectedGlobal NetworkState = 70

// Scope selects which connections FindConnection considers
type Scope int8

const (
	// ScopeAll considers every stored connection
	ScopeAll Scope = iota
	// ScopeActive considers only active connections
	ScopeActive
)

// Route is a route of the connection in CIDR form
// Bypass routes leave through the default gateway of the host instead of the tunnel
type Route struct {
	Dest   string
	Bypass bool
}

// IPConfig is the DNS and routing part of the ipv4 or ipv6 settings
type IPConfig struct {
	DNS           []string
	DNSPriority   int32
	IgnoreAutoDNS bool
	// Routes are only written, they are not read back from the daemon
	Routes []Route
}

// Connection is an OpenVPN connection profile
type Connection struct {
	// Path is the settings object, empty until the connection was added
	Path dbus.ObjectPath

	ID    string
	UUID  string
	Owner string
	// Data is the vpn.data of the OpenVPN plugin
	Data map[string]string
	// Secrets is the vpn.secrets of the OpenVPN plugin
	Secrets map[string]string
	IPv4    IPConfig
	IPv6    IPConfig
}

// Device returns the virtual device name of the connection
func (c *Connection) Device() string {
	return c.Data[keyDev]
}

// SetDevice sets the virtual device name and type
func (c *Connection) SetDevice(name string, devType string) error {
	if devType != "tun" && devType != "tap" {
		return &UnsupportedDeviceError{Type: devType}
	}
	c.Data[keyDev] = name
	c.Data[keyDevType] = devType
	return nil
}

// DeviceType returns tun or tap
func (c *Connection) DeviceType() string {
	return c.Data[keyDevType]
}

// Active is an active connection
type Active struct {
	Path       dbus.ObjectPath
	Connection dbus.ObjectPath
	ID         string
	VPN        bool
	Default    bool
	// Device is the virtual device for VPN connections
	Device string
}

// UnsupportedDeviceError is returned when a configuration uses another device type than tun or tap
type UnsupportedDeviceError struct {
	Type string
}

func (e *UnsupportedDeviceError) Error() string {
	return "unsupported device type: '" + e.Type + "'"
}

// ErrConnectivityCheckUnavailable is returned when the connectivity check cannot be changed
var ErrConnectivityCheckUnavailable = errors.New("the connectivity check is not available")

// Adapter is what the core needs from NetworkManager
type Adapter interface {
	// ImportConfig reads an OpenVPN configuration file into a connection that is not added yet
	ImportConfig(path string) (*Connection, error)
	// AddConnection stores the connection and sets its Path
	AddConnection(ctx context.Context, c *Connection) error
	// Activate starts the connection on top of the base active connection
	// It returns when the activation was accepted, progress is reported through Events
	Activate(ctx context.Context, c *Connection, base *Active) error
	// Deactivate stops the connection if it is active
	Deactivate(ctx context.Context, c *Connection) error
	// Delete removes the stored connection
	Delete(ctx context.Context, c *Connection) error
	// FindConnection returns the connection with our virtual device or nil
	FindConnection(ctx context.Context, scope Scope) (*Connection, error)

	// Events streams the state changes of the connection with our virtual device until ctx is done
	Events(ctx context.Context) (<-chan Event, error)
	// NetworkStates streams the overall state changes until ctx is done
	NetworkStates(ctx context.Context) (<-chan NetworkState, error)
	// PrimaryConnection returns the active connection that owns the default route according to NetworkManager
	PrimaryConnection(ctx context.Context) (*Active, error)
	// DefaultRouteConnection returns an active connection that is not a VPN and has the default route
	DefaultRouteConnection(ctx context.Context) (*Active, error)
	// Gateway returns the IPv4 gateway inside the tunnel of our active connection, empty when there is none
	Gateway(ctx context.Context) (string, error)

	// ConnectivityCheck returns whether the daemon probe is available and enabled
	ConnectivityCheck(ctx context.Context) (available bool, enabled bool, err error)
	// SetConnectivityCheck enables or disables the daemon probe
	SetConnectivityCheck(ctx context.Context, enabled bool) error
}
