// Package api implements the Proton VPN API session
// It keeps the credentials in the keyring and the server list and client config cached on disk
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/protonvpn/protonvpn-nm-core/internal/api/endpoints"
	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	httpw "github.com/protonvpn/protonvpn-nm-core/internal/http"
	"github.com/protonvpn/protonvpn-nm-core/internal/keyring"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

// Refresh intervals of the cached API data, each is jittered
const (
	ServersInterval      = 180 * time.Minute
	LoadsInterval        = 15 * time.Minute
	ClientConfigInterval = 15 * time.Minute
)

// ProbeTimeout is the timeout of the API reachability probe
const ProbeTimeout = 10 * time.Second

var (
	defaultUDPPorts = []int{80, 443, 4569, 1194, 5060}
	defaultTCPPorts = []int{443, 7770, 8443}
)

// ErrNotLoggedIn is returned when an operation needs a session and there is none
var ErrNotLoggedIn = errors.New("not logged in")

// Options configures a new Session
type Options struct {
	// APIURL is the base URL, empty means the production API
	APIURL string
	// Pinning enables TLS public key pinning
	Pinning bool
	// Keyring stores the credentials
	Keyring *keyring.Adapter
	// Paths are the cache locations
	Paths util.Paths
	// Killswitch returns the current kill switch mode, always-on suppresses refreshes
	Killswitch func() config.KillswitchMode
	// Transport overrides the HTTP transport, used by tests
	Transport http.RoundTripper
	// Sleep overrides how retries wait, used by tests
	Sleep func(context.Context, time.Duration) error
}

// Session is the API session with the keyring and cache contract
// It is the only writer of the credentials and the server list
type Session struct {
	mu sync.Mutex

	http       *httpw.Session
	keyring    *keyring.Adapter
	meta       *metadata.Store
	store      *catalog.Store
	paths      util.Paths
	killswitch func() config.KillswitchMode

	username     string
	vpn          *keyring.OVPNEntry
	catalog      *catalog.Catalog
	clientConfig *endpoints.Ports
}

// New creates the session and restores the credentials from the keyring
// A missing or corrupt keyring session gives a session that is not logged in
func New(opts Options) *Session {
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = httpw.DefaultAPIURL
	}
	ks := opts.Killswitch
	if ks == nil {
		ks = func() config.KillswitchMode { return config.KillswitchOff }
	}
	s := &Session{
		http:       httpw.NewSession(apiURL, opts.Pinning),
		keyring:    opts.Keyring,
		meta:       metadata.NewStore(opts.Paths),
		store:      catalog.NewStore(opts.Paths.ServerList()),
		paths:      opts.Paths,
		killswitch: ks,
	}
	if opts.Transport != nil {
		s.http.SetTransport(opts.Transport)
	}
	if opts.Sleep != nil {
		s.http.SetSleep(opts.Sleep)
	}
	s.http.OnRefresh = s.storeDump
	if err := s.load(); err != nil {
		log.Logger.Warningf("Ignoring stored session: %v", err)
	}
	return s
}

// load restores the session from the keyring
func (s *Session) load() error {
	sess, user, err := s.keyring.Consistent()
	if err != nil {
		if errors.Is(err, keyring.ErrSessionMissing) {
			return nil
		}
		return err
	}
	var d httpw.Dump
	if err = json.Unmarshal(sess.Blob, &d); err != nil {
		_ = s.keyring.DeleteAll()
		return httpw.ErrSessionCorrupt
	}
	if err = s.http.Load(d); err != nil {
		_ = s.keyring.DeleteAll()
		return err
	}
	s.username = user.Username
	return nil
}

// storeDump writes the session blob to the keyring, it is called after every token rotation
func (s *Session) storeDump(d httpw.Dump) {
	b, err := json.Marshal(d)
	if err != nil {
		log.Logger.Errorf("failed encoding session: %v", err)
		return
	}
	if err = s.keyring.StoreSession(keyring.SessionEntry{Blob: b}); err != nil {
		log.Logger.Errorf("failed storing refreshed session: %v", err)
	}
}

// Login authenticates and stores the session, the account name and the VPN credentials
// The server list and client config are refreshed so that they are never empty afterwards
func (s *Session) Login(ctx context.Context, username, password string) error {
	if err := s.http.Authenticate(ctx, username, password); err != nil {
		return err
	}
	s.storeDump(s.http.Dump())
	if err := s.keyring.StoreProtonUser(keyring.ProtonUserEntry{Username: username}); err != nil {
		return errors.WrapPrefix(err, "failed storing the account name", 0)
	}
	s.mu.Lock()
	s.username = username
	s.vpn = nil
	s.mu.Unlock()

	if _, err := s.fetchVPN(ctx); err != nil {
		return err
	}
	if err := s.UpdateServersIfNeeded(ctx, true); err != nil {
		return err
	}
	if err := s.UpdateClientConfigIfNeeded(ctx, true); err != nil {
		log.Logger.Warningf("Using the default ports, client config refresh failed: %v", err)
	}
	return nil
}

// Logout revokes the session and removes every keyring entry
// The local state is removed even when revoking fails
func (s *Session) Logout(ctx context.Context) error {
	herr := s.http.Logout(ctx)
	s.mu.Lock()
	s.username = ""
	s.vpn = nil
	s.mu.Unlock()
	if err := s.keyring.DeleteAll(); err != nil {
		return errors.WrapPrefix(err, "failed removing the keyring entries", 0)
	}
	if herr != nil {
		log.Logger.Warningf("Failed revoking the session: %v", herr)
	}
	return herr
}

// Refresh rotates the tokens
func (s *Session) Refresh(ctx context.Context) error {
	return s.http.Refresh(ctx)
}

// IsValid returns whether the session is logged in
func (s *Session) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username != "" && s.http.Authenticated()
}

// Username returns the account name
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// fetchVPN downloads the VPN credentials and stores them in the keyring
func (s *Session) fetchVPN(ctx context.Context) (*keyring.OVPNEntry, error) {
	var info endpoints.VPNInfo
	if err := s.http.CallJSON(ctx, http.MethodGet, endpoints.VPN, nil, &info); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, errors.WrapPrefix(err, "invalid VPN account response", 0)
	}
	e := keyring.OVPNEntry{Username: info.VPN.Name, Password: info.VPN.Password, Tier: info.VPN.MaxTier}
	if err := s.keyring.StoreOVPN(e); err != nil {
		return nil, errors.WrapPrefix(err, "failed storing the VPN credentials", 0)
	}
	s.mu.Lock()
	s.vpn = &e
	s.mu.Unlock()
	return &e, nil
}

// credentials returns the VPN credentials from memory, the keyring or the API in that order
func (s *Session) credentials(ctx context.Context) (*keyring.OVPNEntry, error) {
	if !s.IsValid() {
		return nil, ErrNotLoggedIn
	}
	s.mu.Lock()
	cached := s.vpn
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	e, err := s.keyring.OVPN()
	if err == nil {
		s.mu.Lock()
		s.vpn = e
		s.mu.Unlock()
		return e, nil
	}
	log.Logger.Debugf("VPN credentials not in the keyring, fetching them: %v", err)
	return s.fetchVPN(ctx)
}

// VPNUsername returns the OpenVPN username without suffixes
func (s *Session) VPNUsername(ctx context.Context) (string, error) {
	e, err := s.credentials(ctx)
	if err != nil {
		return "", err
	}
	return e.Username, nil
}

// VPNPassword returns the OpenVPN password
func (s *Session) VPNPassword(ctx context.Context) (string, error) {
	e, err := s.credentials(ctx)
	if err != nil {
		return "", err
	}
	return e.Password, nil
}

// VPNTier returns the tier of the plan
func (s *Session) VPNTier(ctx context.Context) (int, error) {
	e, err := s.credentials(ctx)
	if err != nil {
		return 0, err
	}
	return e.Tier, nil
}

// Servers returns the catalog, it is hydrated from disk the first time or created empty
func (s *Session) Servers() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil {
		c, err := s.store.Load()
		if err != nil {
			log.Logger.Debugf("Starting with an empty server list: %v", err)
			c = &catalog.Catalog{}
		}
		s.catalog = c
	}
	return s.catalog
}

// persist writes the catalog, a failure is not fatal
func (s *Session) persist(c *catalog.Catalog) {
	if err := s.store.Save(c); err != nil {
		log.Logger.Warningf("Failed caching the server list: %v", err)
	}
}

// UpdateServersIfNeeded refreshes the server list when its deadline passed
// A full refresh replaces the catalog, otherwise only loads and scores are updated in place
// While the kill switch is always on nothing is refreshed unless force is set
func (s *Session) UpdateServersIfNeeded(ctx context.Context, force bool) error {
	if !force && s.killswitch() == config.KillswitchAlwaysOn {
		log.Logger.Debugf("Not refreshing the server list, the kill switch is always on")
		return nil
	}
	current := s.Servers()
	now := util.GetCurrentTime()
	cache := s.meta.Cache()

	if force || current.Empty() || now.Unix() >= cache.ServersDeadline {
		var resp endpoints.LogicalsResponse
		if err := s.http.CallJSON(ctx, http.MethodGet, endpoints.Logicals, nil, &resp); err != nil {
			return err
		}
		if err := resp.Validate(); err != nil {
			return &catalog.EmptyServerListError{Reason: err.Error()}
		}
		fresh := catalog.New(resp.LogicalServers, now)
		s.mu.Lock()
		s.catalog = fresh
		s.mu.Unlock()
		cache.ServersDeadline = now.Add(util.Jitter(ServersInterval)).Unix()
		cache.LoadsDeadline = now.Add(util.Jitter(LoadsInterval)).Unix()
		s.persist(fresh)
		s.saveCache(cache)
		return nil
	}

	if now.Unix() >= cache.LoadsDeadline {
		var resp endpoints.LoadsResponse
		if err := s.http.CallJSON(ctx, http.MethodGet, endpoints.Loads, nil, &resp); err != nil {
			return err
		}
		s.mu.Lock()
		current.UpdateLoads(resp.LogicalServers, now)
		s.mu.Unlock()
		cache.LoadsDeadline = now.Add(util.Jitter(LoadsInterval)).Unix()
		s.persist(current)
		s.saveCache(cache)
	}
	return nil
}

func (s *Session) saveCache(c metadata.Cache) {
	if err := s.meta.SaveCache(c); err != nil {
		log.Logger.Warningf("Failed saving the cache deadlines: %v", err)
	}
}

// loadClientConfig reads the cached ports
func (s *Session) loadClientConfig() *endpoints.Ports {
	b, err := lockedfile.Read(s.paths.ClientConfig())
	if err != nil {
		return nil
	}
	var p endpoints.Ports
	if err = json.Unmarshal(b, &p); err != nil || len(p.UDP) == 0 || len(p.TCP) == 0 {
		return nil
	}
	return &p
}

// UpdateClientConfigIfNeeded refreshes the default ports when their deadline passed
func (s *Session) UpdateClientConfigIfNeeded(ctx context.Context, force bool) error {
	if !force && s.killswitch() == config.KillswitchAlwaysOn {
		return nil
	}
	now := util.GetCurrentTime()
	cache := s.meta.Cache()
	if !force && now.Unix() < cache.ClientConfigDeadline {
		return nil
	}
	var resp endpoints.ClientConfigResponse
	if err := s.http.CallJSON(ctx, http.MethodGet, endpoints.ClientConfig, nil, &resp); err != nil {
		return err
	}
	if err := resp.Validate(); err != nil {
		return errors.WrapPrefix(err, "invalid client config", 0)
	}
	ports := resp.DefaultPorts.OpenVPN
	s.mu.Lock()
	s.clientConfig = &ports
	s.mu.Unlock()

	b, err := json.Marshal(ports)
	if err == nil {
		if err = util.EnsureDirectory(filepath.Dir(s.paths.ClientConfig())); err == nil {
			err = lockedfile.Write(s.paths.ClientConfig(), bytes.NewReader(b), 0o600)
		}
	}
	if err != nil {
		log.Logger.Warningf("Failed caching the client config: %v", err)
	}
	cache.ClientConfigDeadline = now.Add(util.Jitter(ClientConfigInterval)).Unix()
	s.saveCache(cache)
	return nil
}

func (s *Session) ports() endpoints.Ports {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientConfig == nil {
		s.clientConfig = s.loadClientConfig()
	}
	if s.clientConfig == nil {
		return endpoints.Ports{UDP: defaultUDPPorts, TCP: defaultTCPPorts}
	}
	return *s.clientConfig
}

// VPNPortsUDP returns the OpenVPN UDP ports
func (s *Session) VPNPortsUDP() []int {
	return append([]int(nil), s.ports().UDP...)
}

// VPNPortsTCP returns the OpenVPN TCP ports
func (s *Session) VPNPortsTCP() []int {
	return append([]int(nil), s.ports().TCP...)
}

// Ping checks that the API is reachable
func (s *Session) Ping(ctx context.Context) error {
	return s.http.Probe(ctx, endpoints.Ping, ProbeTimeout)
}
