// Package supervisor sets up, starts and stops the ProtonVPN connection in NetworkManager
package supervisor

import (
	"context"
	"os"
	"os/user"
	"time"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/killswitch"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// DNSPriority makes the tunnel DNS win over the other connections
const DNSPriority = -50

// ActivationTimeout is how long Connect waits for the tunnel to become active
const ActivationTimeout = 45 * time.Second

// ServerData is the server side of a connection
type ServerData struct {
	Name     string
	Domain   string
	EntryIP  string
	ExitIP   string
	Protocol protocol.Protocol
	// ConfigPath is the rendered OpenVPN configuration
	ConfigPath string
}

// UserData is the user side of a connection
type UserData struct {
	// Username is the decorated OpenVPN username
	Username  string
	Password  string
	DNS       config.DNSMode
	CustomDNS []string
}

// Options are the collaborators of the supervisor
type Options struct {
	Adapter    nm.Adapter
	Killswitch *killswitch.Killswitch
	Metadata   *metadata.Store
	// Mode returns the current kill switch mode
	Mode func() config.KillswitchMode
	// RemoveConfig deletes the rendered configuration after it was imported
	RemoveConfig func(path string) error
}

// Supervisor drives a connection through its lifecycle
type Supervisor struct {
	opts   Options
	conn   *nm.Connection
	server ServerData
	// Timeout bounds the wait for the tunnel to become active
	Timeout time.Duration
}

// New creates a supervisor
func New(opts Options) *Supervisor {
	if opts.Mode == nil {
		opts.Mode = func() config.KillswitchMode { return config.KillswitchOff }
	}
	if opts.RemoveConfig == nil {
		opts.RemoveConfig = func(string) error { return nil }
	}
	return &Supervisor{opts: opts, Timeout: ActivationTimeout}
}

// ApplyDNS sets the DNS policy on the connection
// DNS is always handled while tunneled so a disabled mode is treated as automatic
func ApplyDNS(c *nm.Connection, mode config.DNSMode, custom []string) error {
	if mode == config.DNSDisabled {
		mode = config.DNSAutomatic
	}
	// routes come from the imported configuration
	c.IPv4 = nm.IPConfig{DNSPriority: DNSPriority, Routes: c.IPv4.Routes}
	c.IPv6 = nm.IPConfig{DNSPriority: DNSPriority, Routes: c.IPv6.Routes}
	if mode != config.DNSCustom {
		return nil
	}
	if err := config.ValidateDNS(custom); err != nil {
		return err
	}
	if len(custom) == 0 {
		return errors.New("custom DNS is enabled but no servers are configured")
	}
	c.IPv4.IgnoreAutoDNS = true
	c.IPv6.IgnoreAutoDNS = true
	c.IPv4.DNS = append([]string(nil), custom...)
	return nil
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		log.Logger.Warningf("Could not determine the current user: %v", err)
		return ""
	}
	return u.Username
}

// Setup imports the configuration, rewrites it for the server and user and replaces any existing ProtonVPN connection
func (s *Supervisor) Setup(ctx context.Context, server ServerData, usr UserData) error {
	conn, err := s.opts.Adapter.ImportConfig(server.ConfigPath)
	if err != nil {
		return &ImportConnectionError{Err: err}
	}
	if err = s.opts.RemoveConfig(server.ConfigPath); err != nil {
		log.Logger.Warningf("Failed removing the configuration file: %v", err)
	}

	conn.Owner = currentUser()
	conn.ID = nm.IDPrefix + server.Name
	conn.SetCredentials(usr.Username, usr.Password)
	conn.SetVerifyName(server.Domain)
	if err = conn.SetDevice(nm.VirtualDevice, conn.DeviceType()); err != nil {
		return &ImportConnectionError{Err: err}
	}
	if err = ApplyDNS(conn, usr.DNS, usr.CustomDNS); err != nil {
		return err
	}

	if err = s.removeExisting(ctx); err != nil {
		return err
	}
	if err = s.opts.Adapter.AddConnection(ctx, conn); err != nil {
		return &ImportConnectionError{Err: err}
	}
	log.Logger.Infof("Added connection %s", conn.ID)
	s.conn = conn
	s.server = server
	return nil
}

func (s *Supervisor) removeExisting(ctx context.Context) error {
	for {
		old, err := s.opts.Adapter.FindConnection(ctx, nm.ScopeAll)
		if err != nil {
			return err
		}
		if old == nil {
			return nil
		}
		log.Logger.Infof("Removing existing connection %s", old.ID)
		if err = s.opts.Adapter.Deactivate(ctx, old); err != nil {
			return err
		}
		if err = s.opts.Adapter.Delete(ctx, old); err != nil {
			return err
		}
		removeCerts(old)
	}
}

func removeCerts(c *nm.Connection) {
	if util.IsCI() {
		return
	}
	for _, f := range c.CertFiles() {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Logger.Debugf("Failed removing %s: %v", f, err)
		}
	}
}

// Connect applies the pre-connection posture and activates the connection
// It returns once the tunnel is active, on failure the connection is kept so that it can be retried
func (s *Supervisor) Connect(ctx context.Context) error {
	if s.conn == nil {
		return ErrNotSetUp
	}
	mode := s.opts.Mode()
	ks := s.opts.Killswitch
	if err := ks.Apply(ctx, mode, killswitch.StagePreConnection, s.server.EntryIP); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	events, err := s.opts.Adapter.Events(wctx)
	if err != nil {
		s.teardown(ctx, mode)
		return err
	}
	base, err := s.opts.Adapter.DefaultRouteConnection(ctx)
	if err != nil {
		log.Logger.Debugf("No default route connection: %v", err)
	}
	if err = s.opts.Adapter.Activate(ctx, s.conn, base); err != nil {
		s.teardown(ctx, mode)
		return &StartConnectionFinishError{Err: err}
	}
	if err = s.await(wctx, events); err != nil {
		s.teardown(ctx, mode)
		return err
	}

	if err = s.record(); err != nil {
		log.Logger.Warningf("Failed saving connection metadata: %v", err)
	}
	if err = ks.EnableIPv6Block(ctx); err != nil {
		log.Logger.Warningf("Failed enabling IPv6 leak protection: %v", err)
	}
	return ks.Apply(ctx, mode, killswitch.StagePostConnection, "")
}

// await waits for the first terminal event of the activation
func (s *Supervisor) await(ctx context.Context, events <-chan nm.Event) error {
	for {
		select {
		case <-ctx.Done():
			return &StartConnectionFinishError{State: nm.VPNStateUnknown, Reason: nm.ReasonConnectTimeout, Err: ctx.Err()}
		case ev, ok := <-events:
			if !ok {
				return &StartConnectionFinishError{Err: errors.New("the event stream closed")}
			}
			log.Logger.Debugf("VPN state %s, reason %s", ev.State, ev.Reason)
			switch ev.State {
			case nm.VPNStateActive:
				return nil
			case nm.VPNStateFailed, nm.VPNStateDisconnected:
				return &StartConnectionFinishError{State: ev.State, Reason: ev.Reason}
			}
		}
	}
}

// teardown undoes the pre-connection posture after a failed activation
// Always-on goes back to blocking, the other modes remove the dummies
func (s *Supervisor) teardown(ctx context.Context, mode config.KillswitchMode) {
	var err error
	switch mode {
	case config.KillswitchOff:
		return
	case config.KillswitchAlwaysOn:
		err = s.opts.Killswitch.PostConnection(ctx)
	default:
		err = s.opts.Killswitch.Disable(ctx)
	}
	if err != nil {
		log.Logger.Warningf("Failed tearing down the pre-connection posture: %v", err)
	}
}

func (s *Supervisor) record() error {
	md := s.opts.Metadata
	if md == nil {
		return nil
	}
	err := md.SaveCurrent(metadata.Connection{
		Server:        s.server.Name,
		Protocol:      s.server.Protocol,
		ConnectedTime: util.GetCurrentTime().Unix(),
		DisplayIP:     s.server.ExitIP,
	})
	if err != nil {
		return err
	}
	return md.SaveLast(metadata.LastConnection{
		Server:   s.server.Name,
		Protocol: s.server.Protocol,
		IP:       s.server.EntryIP,
	})
}

// Disconnect stops and deletes the ProtonVPN connection and applies the disconnected posture
func (s *Supervisor) Disconnect(ctx context.Context) error {
	conn, err := s.opts.Adapter.FindConnection(ctx, nm.ScopeAll)
	if err != nil {
		return err
	}
	if conn == nil {
		return ErrConnectionMissing
	}
	if err = s.opts.Adapter.Deactivate(ctx, conn); err != nil {
		return err
	}
	if err = s.opts.Adapter.Delete(ctx, conn); err != nil {
		return err
	}
	removeCerts(conn)
	s.conn = nil
	if md := s.opts.Metadata; md != nil {
		if err = md.ClearCurrent(); err != nil {
			log.Logger.Warningf("Failed clearing connection metadata: %v", err)
		}
	}

	ks := s.opts.Killswitch
	if err = ks.Apply(ctx, s.opts.Mode(), killswitch.StageDisconnected, ""); err != nil {
		return err
	}
	return ks.DisableIPv6Block(ctx)
}

// Connection returns the connection that was set up, nil before Setup
func (s *Supervisor) Connection() *nm.Connection {
	return s.conn
}
