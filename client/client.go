// Package client implements the public interface of the ProtonVPN NetworkManager core
// Every exported method returns errors that can be shown to the user, see i18nerr
package client

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/api"
	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/configurator"
	"github.com/protonvpn/protonvpn-nm-core/internal/connectivity"
	"github.com/protonvpn/protonvpn-nm-core/internal/fsm"
	"github.com/protonvpn/protonvpn-nm-core/internal/keyring"
	"github.com/protonvpn/protonvpn-nm-core/internal/killswitch"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/internal/supervisor"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// Reconnector runs the reconnection agent next to the client
type Reconnector interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Environment holds the collaborators of a client
// Only Paths, Keyring and Adapter are required
type Environment struct {
	Paths   util.Paths
	Keyring keyring.Backend
	Adapter nm.Adapter

	// APIURL is the base URL of the API, empty means production
	APIURL string
	// Pinning enables TLS public key pinning for the API
	Pinning bool
	// Transport overrides the HTTP transport of the API and the internet probe
	Transport http.RoundTripper
	// Sleep overrides how API retries wait
	Sleep func(context.Context, time.Duration) error
	// Material is the CA and tls-auth key, when empty it is read from MaterialDir
	// or taken from the binary
	Material    configurator.Material
	MaterialDir string
	// Rand overrides the source of server selection
	Rand catalog.Rand
	// Reconnector is started after connecting, nil disables it
	Reconnector Reconnector
	// InternetURL overrides the URL of the internet probe
	InternetURL string
	// StateCallback is called on every lifecycle transition
	StateCallback func(FSMStateID, FSMStateID, interface{}) bool
	// Debug logs stack traces and writes the state graph
	Debug bool
}

// Client is the main struct for the VPN client
type Client struct {
	// The fsm of the connection lifecycle
	FSM fsm.FSM

	// Whether to enable debugging
	Debug bool

	env     Environment
	config  *config.Config
	session *api.Session
	keyring *keyring.Adapter
	meta    *metadata.Store
	ks      *killswitch.Killswitch
	sup     *supervisor.Supervisor
	conf    *configurator.Configurator
	checker *connectivity.Checker
}

// New creates the client and restores the lifecycle state from the keyring and NetworkManager
func New(ctx context.Context, env Environment) (_ *Client, err error) {
	c := &Client{env: env, Debug: env.Debug}
	defer func() {
		if err != nil {
			c.logError(err)
			err = userError(err)
		}
	}()
	if env.Adapter == nil || env.Keyring == nil {
		return nil, errors.New("the client needs a keyring and a NetworkManager adapter")
	}

	c.config, err = config.Load(env.Paths.Settings())
	if err != nil {
		return nil, err
	}
	c.keyring = keyring.NewAdapter(env.Keyring)
	c.meta = metadata.NewStore(env.Paths)
	c.session = api.New(api.Options{
		APIURL:     env.APIURL,
		Pinning:    env.Pinning,
		Keyring:    c.keyring,
		Paths:      env.Paths,
		Killswitch: c.killswitchMode,
		Transport:  env.Transport,
		Sleep:      env.Sleep,
	})
	c.ks = killswitch.New(env.Adapter)
	material := env.Material
	if material.CA == "" {
		m, merr := configurator.LoadMaterial(env.MaterialDir)
		if merr != nil {
			log.Logger.Warningf("Failed loading the OpenVPN material from %s, using the embedded one: %v", env.MaterialDir, merr)
			m = configurator.DefaultMaterial()
		}
		material = m
	}
	c.conf = configurator.New(env.Paths.OpenVPNConfig(), material)
	c.sup = supervisor.New(supervisor.Options{
		Adapter:      env.Adapter,
		Killswitch:   c.ks,
		Metadata:     c.meta,
		Mode:         c.killswitchMode,
		RemoveConfig: c.conf.Remove,
	})
	c.checker = connectivity.New(c.session)
	if env.InternetURL != "" {
		c.checker.InternetURL = env.InternetURL
	}
	if env.Transport != nil {
		c.checker.SetTransport(env.Transport)
	}

	c.FSM = newFSM(env.StateCallback, env.Paths.CacheDir, env.Debug)
	if err = c.restore(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// restore moves the state machine to the state that matches the keyring and NetworkManager
func (c *Client) restore(ctx context.Context) error {
	if !c.session.IsValid() {
		return nil
	}
	if _, err := c.FSM.GoTransition(StateDisconnected); err != nil {
		return err
	}
	conn, err := c.env.Adapter.FindConnection(ctx, nm.ScopeActive)
	if err != nil {
		log.Logger.Warningf("Could not look up an existing connection: %v", err)
		return nil
	}
	if conn == nil {
		return nil
	}
	_, err = c.FSM.GoTransitionWithData(StateConnected, conn.ID)
	return err
}

func (c *Client) killswitchMode() config.KillswitchMode {
	return c.config.Settings().Killswitch
}

// InState returns whether the lifecycle is in state s
func (c *Client) InState(s FSMStateID) bool {
	return c.FSM.InState(s)
}

// LoggedIn returns whether a valid session is stored
func (c *Client) LoggedIn() bool {
	return c.session.IsValid()
}

// Username returns the account name of the session
func (c *Client) Username() string {
	return c.session.Username()
}

// Login authenticates with the account and stores the session
func (c *Client) Login(ctx context.Context, username, password string) (err error) {
	defer func() {
		if err != nil {
			c.logError(err)
			err = userError(err)
		}
	}()
	if c.session.IsValid() {
		return ErrAlreadyLoggedIn
	}
	if err = c.FSM.CheckTransition(StateDisconnected); err != nil {
		return err
	}
	if err = c.session.Login(ctx, username, password); err != nil {
		return err
	}
	log.Logger.Infof("Logged in as %s", username)
	_, err = c.FSM.GoTransitionWithData(StateDisconnected, username)
	return err
}

// Logout disconnects, removes the leak protection and forgets the session and the cached data
func (c *Client) Logout(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			c.logError(err)
			err = userError(err)
		}
	}()
	if !c.session.IsValid() {
		return api.ErrNotLoggedIn
	}
	if conn, ferr := c.env.Adapter.FindConnection(ctx, nm.ScopeAll); ferr == nil && conn != nil {
		if err = c.disconnect(ctx); err != nil {
			return err
		}
	}
	// logging out always removes the kill switch, also in always-on mode
	if err = c.ks.Disable(ctx); err != nil {
		return err
	}
	if err = c.ks.DisableIPv6Block(ctx); err != nil {
		return err
	}
	if lerr := c.session.Logout(ctx); lerr != nil {
		log.Logger.Warningf("Logged out locally, the API session was not revoked: %v", lerr)
	}
	c.removeCache()
	_, err = c.FSM.GoTransition(StateLoggedOut)
	return err
}

// removeCache deletes the cached API data, in CI mode it is kept
func (c *Client) removeCache() {
	if util.IsCI() {
		log.Logger.Debugf("CI mode, keeping the cache")
		return
	}
	for _, p := range []string{
		c.env.Paths.ServerList(),
		c.env.Paths.ClientConfig(),
		c.env.Paths.CacheMetadata(),
		c.env.Paths.LastConnectionMetadata(),
	} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Logger.Warningf("Failed removing %s: %v", p, err)
		}
	}
}

// Settings returns the user settings
func (c *Client) Settings() config.Settings {
	return c.config.Settings()
}

// SetProtocol sets the default protocol
func (c *Client) SetProtocol(p protocol.Protocol) error {
	return c.settingsError(c.config.SetProtocol(p))
}

// SetDNS sets the DNS mode and the custom servers, it is applied on the next connect
func (c *Client) SetDNS(m config.DNSMode, servers []string) error {
	return c.settingsError(c.config.SetDNS(m, servers))
}

// SetNetShield sets the netshield level, it is applied on the next connect
func (c *Client) SetNetShield(n config.NetShield) error {
	return c.settingsError(c.config.SetNetShield(n))
}

// SetSplitTunnel sets the IPs that bypass the tunnel, it is applied on the next connect
func (c *Client) SetSplitTunnel(ips []string) error {
	return c.settingsError(c.config.SetSplitTunnel(ips))
}

// SetReconnect enables or disables the reconnection agent
func (c *Client) SetReconnect(enabled bool) error {
	return c.settingsError(c.config.SetReconnect(enabled))
}

// SetKillswitch sets the kill switch mode and applies it right away
func (c *Client) SetKillswitch(ctx context.Context, m config.KillswitchMode) error {
	if err := c.config.SetKillswitch(m); err != nil {
		return c.settingsError(err)
	}
	conn, err := c.env.Adapter.FindConnection(ctx, nm.ScopeActive)
	if err != nil {
		return c.settingsError(err)
	}
	return c.settingsError(c.ks.Configure(ctx, m, conn != nil))
}

// ResetSettings restores the default settings, the kill switch is removed
func (c *Client) ResetSettings(ctx context.Context) error {
	if err := c.config.Reset(); err != nil {
		return c.settingsError(err)
	}
	return c.settingsError(c.ks.Disable(ctx))
}

func (c *Client) settingsError(err error) error {
	if err == nil {
		return nil
	}
	c.logError(err)
	return userError(err)
}
