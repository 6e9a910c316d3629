package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	httpw "github.com/protonvpn/protonvpn-nm-core/internal/http"
	"github.com/protonvpn/protonvpn-nm-core/internal/keyring"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/test"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

type fixture struct {
	api     *test.ProtonAPI
	keyring *keyring.Adapter
	paths   util.Paths
	sleeps  []time.Duration
	mode    config.KillswitchMode
}

func newFixture(t *testing.T, logicals []test.Logical) *fixture {
	f := &fixture{
		api:     test.NewProtonAPI(t, logicals),
		keyring: keyring.NewAdapter(keyring.NewMemory()),
		paths:   util.PathsFromRoot(t.TempDir()),
	}
	if err := f.keyring.StoreSession(keyring.SessionEntry{Blob: f.api.SessionBlob(httpw.AppVersion, httpw.UserAgent)}); err != nil {
		t.Fatalf("failed storing session: %v", err)
	}
	if err := f.keyring.StoreProtonUser(keyring.ProtonUserEntry{Username: "alice"}); err != nil {
		t.Fatalf("failed storing user: %v", err)
	}
	return f
}

func (f *fixture) session(t *testing.T) *Session {
	tr, err := f.api.Transport()
	if err != nil {
		t.Fatalf("failed getting transport: %v", err)
	}
	return New(Options{
		APIURL:     f.api.URL,
		Keyring:    f.keyring,
		Paths:      f.paths,
		Killswitch: func() config.KillswitchMode { return f.mode },
		Transport:  tr,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	})
}

func setClock(t *testing.T, now time.Time) {
	prev := util.GetCurrentTime
	util.GetCurrentTime = func() time.Time { return now }
	t.Cleanup(func() { util.GetCurrentTime = prev })
}

func TestLoadFromKeyring(t *testing.T) {
	f := newFixture(t, test.ManyLogicals(1))
	s := f.session(t)
	if !s.IsValid() {
		t.Fatalf("session from the keyring is not valid")
	}
	if s.Username() != "alice" {
		t.Fatalf("got username: %s", s.Username())
	}
}

func TestInconsistentKeyringIsCleared(t *testing.T) {
	f := newFixture(t, nil)
	k := keyring.NewAdapter(keyring.NewMemory())
	if err := k.StoreSession(keyring.SessionEntry{Blob: f.api.SessionBlob(httpw.AppVersion, httpw.UserAgent)}); err != nil {
		t.Fatalf("failed storing session: %v", err)
	}
	f.keyring = k
	s := f.session(t)
	if s.IsValid() {
		t.Fatalf("session without a username is valid")
	}
	if _, err := k.Session(); !errors.Is(err, keyring.ErrNotFound) {
		t.Fatalf("leftover session entry was not deleted: %v", err)
	}
}

func TestPartialBlobIsCorrupt(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.keyring.StoreSession(keyring.SessionEntry{Blob: []byte(`{"AccessToken": "a"}`)}); err != nil {
		t.Fatalf("failed storing session: %v", err)
	}
	s := f.session(t)
	if s.IsValid() {
		t.Fatalf("partial session is valid")
	}
	if _, err := f.keyring.ProtonUser(); !errors.Is(err, keyring.ErrNotFound) {
		t.Fatalf("entries were not removed after a corrupt session: %v", err)
	}
}

func TestTokenExpiryUpdatesKeyring(t *testing.T) {
	f := newFixture(t, nil)
	f.api.Handle("/vpn/logicals", test.NewSequence(
		test.Response{Status: 401, Body: `{"Code": 401, "Error": "Invalid access token"}`},
		test.Response{Body: test.LogicalsJSON(test.ManyLogicals(3))},
	))
	s := f.session(t)
	if err := s.UpdateServersIfNeeded(context.Background(), false); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if f.api.Hits("/auth/refresh") != 1 || f.api.Hits("/vpn/logicals") != 2 {
		t.Fatalf("got %d refreshes and %d logicals calls", f.api.Hits("/auth/refresh"), f.api.Hits("/vpn/logicals"))
	}
	e, err := f.keyring.Session()
	if err != nil {
		t.Fatalf("failed reading session: %v", err)
	}
	if !strings.Contains(string(e.Blob), `"AccessToken":"access2"`) || !strings.Contains(string(e.Blob), `"RefreshToken":"refresh2"`) {
		t.Fatalf("keyring was not updated: %s", e.Blob)
	}
	if got := len(s.Servers().Logicals); got != 3 {
		t.Fatalf("got %d servers, want: 3", got)
	}
}

func TestFullRefreshAfterDeadline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	setClock(t, now)
	f := newFixture(t, nil)
	old := catalog.New([]catalog.Logical{{Name: "OLD#1", Status: 1}}, now.Add(-200*time.Minute))
	if err := catalog.NewStore(f.paths.ServerList()).Save(old); err != nil {
		t.Fatalf("failed saving: %v", err)
	}
	if err := metadata.NewStore(f.paths).SaveCache(metadata.Cache{
		ServersDeadline: now.Add(-20 * time.Minute).Unix(),
		LoadsDeadline:   now.Add(-185 * time.Minute).Unix(),
	}); err != nil {
		t.Fatalf("failed saving cache: %v", err)
	}
	f.api.Handle("/vpn/logicals", test.NewSequence(
		test.Response{Status: 429, Header: http.Header{"Retry-After": {"3"}}, Body: `{"Code": 2028, "Error": "Too many requests"}`},
		test.Response{Body: test.LogicalsJSON(test.ManyLogicals(60))},
	))

	s := f.session(t)
	if _, ok := s.Servers().Find("OLD#1"); !ok {
		t.Fatalf("catalog was not hydrated from disk")
	}
	if err := s.UpdateServersIfNeeded(context.Background(), false); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{3 * time.Second}, f.sleeps); diff != "" {
		t.Fatalf("sleeps differ (-want +got):\n%s", diff)
	}
	if _, ok := s.Servers().Find("OLD#1"); ok {
		t.Fatalf("catalog was not replaced")
	}
	if got := len(s.Servers().Logicals); got != 60 {
		t.Fatalf("got %d servers, want: 60", got)
	}
	stored, err := catalog.NewStore(f.paths.ServerList()).Load()
	if err != nil || len(stored.Logicals) != 60 {
		t.Fatalf("catalog was not persisted: %v", err)
	}

	cache := metadata.NewStore(f.paths).Cache()
	full := time.Unix(cache.ServersDeadline, 0).Sub(now)
	loads := time.Unix(cache.LoadsDeadline, 0).Sub(now)
	if full < time.Duration(float64(ServersInterval)*0.78)-time.Second || full > time.Duration(float64(ServersInterval)*1.22) {
		t.Fatalf("full refresh deadline %v out of the jitter bounds", full)
	}
	if loads < time.Duration(float64(LoadsInterval)*0.78)-time.Second || loads > time.Duration(float64(LoadsInterval)*1.22) {
		t.Fatalf("loads refresh deadline %v out of the jitter bounds", loads)
	}
}

func TestLoadsOnlyRefresh(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	setClock(t, now)
	f := newFixture(t, nil)
	if err := catalog.NewStore(f.paths.ServerList()).Save(catalog.New([]catalog.Logical{
		{Name: "NL#1", ID: "id-NL#1", Status: 1, Load: 10, Score: 2},
		{Name: "NL#2", ID: "id-NL#2", Status: 1, Load: 10, Score: 3},
	}, now.Add(-time.Hour))); err != nil {
		t.Fatalf("failed saving: %v", err)
	}
	if err := metadata.NewStore(f.paths).SaveCache(metadata.Cache{
		ServersDeadline: now.Add(time.Hour).Unix(),
		LoadsDeadline:   now.Add(-time.Minute).Unix(),
	}); err != nil {
		t.Fatalf("failed saving cache: %v", err)
	}
	f.api.Handle("/vpn/loads", test.NewSequence(test.Response{
		Body: `{"Code": 1000, "LogicalServers": [{"ID": "id-NL#1", "Load": 90, "Score": 0.1}]}`,
	}))
	s := f.session(t)
	c := s.Servers()
	if err := s.UpdateServersIfNeeded(context.Background(), false); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if f.api.Hits("/vpn/logicals") != 0 {
		t.Fatalf("a loads refresh fetched the full list")
	}
	l, _ := s.Servers().Find("NL#1")
	if l.Load != 90 || l.Score != 0.1 {
		t.Fatalf("got load %d score %v", l.Load, l.Score)
	}
	if s.Servers() != c {
		t.Fatalf("loads refresh replaced the catalog instead of updating it")
	}
}

func TestAlwaysOnSuppressesRefresh(t *testing.T) {
	f := newFixture(t, test.ManyLogicals(2))
	f.mode = config.KillswitchAlwaysOn
	s := f.session(t)
	if err := s.UpdateServersIfNeeded(context.Background(), false); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if f.api.Hits("/vpn/logicals") != 0 {
		t.Fatalf("refreshed while the kill switch is always on")
	}
	if err := s.UpdateServersIfNeeded(context.Background(), true); err != nil {
		t.Fatalf("forced refresh failed: %v", err)
	}
	if f.api.Hits("/vpn/logicals") != 1 {
		t.Fatalf("forced refresh did not fetch the list")
	}
}

func TestFailedRefreshKeepsCatalog(t *testing.T) {
	f := newFixture(t, nil)
	if err := catalog.NewStore(f.paths.ServerList()).Save(catalog.New([]catalog.Logical{{Name: "OLD#1", Status: 1}}, time.Unix(0, 0))); err != nil {
		t.Fatalf("failed saving: %v", err)
	}
	f.api.Handle("/vpn/logicals", test.NewSequence(test.Response{Status: 500, Body: `{"Code": 500, "Error": "boom"}`}))
	s := f.session(t)
	err := s.UpdateServersIfNeeded(context.Background(), false)
	var ae *httpw.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("got: %v, want an APIError", err)
	}
	if _, ok := s.Servers().Find("OLD#1"); !ok {
		t.Fatalf("a failed refresh replaced the catalog")
	}

	f.api.Handle("/vpn/logicals", test.NewSequence(test.Response{Body: `{"Code": 1000, "LogicalServers": []}`}))
	err = s.UpdateServersIfNeeded(context.Background(), true)
	var empty *catalog.EmptyServerListError
	if !errors.As(err, &empty) {
		t.Fatalf("got: %v, want an EmptyServerListError", err)
	}
	if _, ok := s.Servers().Find("OLD#1"); !ok {
		t.Fatalf("an empty response replaced the catalog")
	}
}

func TestVPNCredentialsOnDemand(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	ctx := context.Background()
	user, err := s.VPNUsername(ctx)
	if err != nil || user != "vpnuser" {
		t.Fatalf("got: %s, %v", user, err)
	}
	pass, _ := s.VPNPassword(ctx)
	tier, _ := s.VPNTier(ctx)
	if pass != "vpnpass" || tier != 2 {
		t.Fatalf("got password %s tier %d", pass, tier)
	}
	if f.api.Hits("/vpn") != 1 {
		t.Fatalf("got %d /vpn calls, want: 1", f.api.Hits("/vpn"))
	}
	e, err := f.keyring.OVPN()
	if err != nil || e.Username != "vpnuser" {
		t.Fatalf("credentials were not stored: %v", err)
	}

	// a new session reads them from the keyring
	again := f.session(t)
	if _, err = again.VPNUsername(ctx); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if f.api.Hits("/vpn") != 1 {
		t.Fatalf("credentials were fetched although they are in the keyring")
	}
}

func TestNotLoggedIn(t *testing.T) {
	f := newFixture(t, nil)
	f.keyring = keyring.NewAdapter(keyring.NewMemory())
	s := f.session(t)
	if _, err := s.VPNUsername(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("got: %v, want: %v", err, ErrNotLoggedIn)
	}
}

func TestPorts(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	if diff := cmp.Diff([]int{80, 443, 4569, 1194, 5060}, s.VPNPortsUDP()); diff != "" {
		t.Fatalf("default UDP ports differ:\n%s", diff)
	}
	if err := s.UpdateClientConfigIfNeeded(context.Background(), false); err != nil {
		t.Fatalf("failed client config: %v", err)
	}
	if diff := cmp.Diff([]int{1194, 443}, s.VPNPortsUDP()); diff != "" {
		t.Fatalf("UDP ports differ:\n%s", diff)
	}
	// the cached config is used by a new session
	again := f.session(t)
	if diff := cmp.Diff([]int{443}, again.VPNPortsTCP()); diff != "" {
		t.Fatalf("TCP ports differ:\n%s", diff)
	}
	// the deadline has not passed so nothing is fetched
	if err := again.UpdateClientConfigIfNeeded(context.Background(), false); err != nil {
		t.Fatalf("failed client config: %v", err)
	}
	if f.api.Hits("/vpn/clientconfig") != 1 {
		t.Fatalf("got %d client config calls, want: 1", f.api.Hits("/vpn/clientconfig"))
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if s.IsValid() {
		t.Fatalf("session still valid after logout")
	}
	if _, _, err := f.keyring.Consistent(); !errors.Is(err, keyring.ErrSessionMissing) {
		t.Fatalf("keyring not empty after logout: %v", err)
	}
	if f.api.Hits("/auth") != 1 {
		t.Fatalf("session was not revoked")
	}
}

func TestPing(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	f.api.Handle("/tests/ping", test.NewSequence(test.Response{Status: 503, Body: "down"}))
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("ping of an unavailable API succeeded")
	}
}
