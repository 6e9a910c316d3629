package reconnector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/configurator"
	"github.com/protonvpn/protonvpn-nm-core/internal/killswitch"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm/nmtest"
	"github.com/protonvpn/protonvpn-nm-core/internal/shellx/shellxtesting"
	"github.com/protonvpn/protonvpn-nm-core/internal/supervisor"
	"github.com/protonvpn/protonvpn-nm-core/internal/test"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

const entryIP = "185.159.157.10"

var connectedAt = time.Unix(1700000000, 0)

var defaultEvents = []nm.Event{
	{State: nm.VPNStatePrepare, Reason: nm.ReasonNone},
	{State: nm.VPNStateConnect, Reason: nm.ReasonNone},
	{State: nm.VPNStateActive, Reason: nm.ReasonNone},
}

// scheduler records the retries and fires them right away
type scheduler struct {
	mu       sync.Mutex
	delays   []time.Duration
	failures []int
	never    bool
}

type fixture struct {
	fake  *nmtest.Fake
	nmcli *test.NMCLI
	md    *metadata.Store
	mode  config.KillswitchMode
	sched *scheduler
	agent *Agent
}

func withFixture(t *testing.T, mode config.KillswitchMode, fn func(f *fixture)) {
	paths := util.PathsFromRoot(t.TempDir())
	f := &fixture{
		fake:  nmtest.New(paths.CertDir()),
		nmcli: test.NewNMCLI(),
		md:    metadata.NewStore(paths),
		mode:  mode,
		sched: &scheduler{},
	}
	ks := killswitch.New(f.fake)
	f.agent = New(Options{
		Adapter:    f.fake,
		Killswitch: ks,
		Metadata:   f.md,
		Mode:       func() config.KillswitchMode { return f.mode },
	})
	f.agent.now = func() time.Time { return connectedAt }
	f.agent.after = func(d time.Duration) <-chan time.Time {
		f.sched.mu.Lock()
		defer f.sched.mu.Unlock()
		f.sched.delays = append(f.sched.delays, d)
		f.sched.failures = append(f.sched.failures, f.agent.failures)
		c := make(chan time.Time, 1)
		if !f.sched.never {
			c <- time.Now()
		}
		return c
	}

	shellxtesting.WithCustomLibrary(f.nmcli.Script(), func() {
		conf := configurator.New(paths.OpenVPNConfig(), configurator.Material{CA: test.FakeCA, TLSAuth: test.FakeTLSAuth})
		p, err := conf.Render("CH#1", protocol.UDP, catalog.Physical{EntryIP: entryIP}, []int{1194})
		if err != nil {
			t.Fatalf("failed rendering: %v", err)
		}
		sup := supervisor.New(supervisor.Options{
			Adapter:      f.fake,
			Killswitch:   ks,
			Metadata:     f.md,
			Mode:         func() config.KillswitchMode { return f.mode },
			RemoveConfig: conf.Remove,
		})
		server := supervisor.ServerData{Name: "CH#1", Domain: "node-ch-01.protonvpn.net", EntryIP: entryIP, ExitIP: entryIP, Protocol: protocol.UDP, ConfigPath: p}
		if err = sup.Setup(context.Background(), server, supervisor.UserData{Username: "user+pl", Password: "pass"}); err != nil {
			t.Fatalf("failed setting up: %v", err)
		}
		if err = f.md.SaveLast(metadata.LastConnection{Server: "CH#1", Protocol: protocol.UDP, IP: entryIP}); err != nil {
			t.Fatalf("failed saving the last connection: %v", err)
		}
		if err = f.md.SaveCurrent(metadata.Connection{Server: "CH#1", Protocol: protocol.UDP, DisplayIP: entryIP}); err != nil {
			t.Fatalf("failed saving the current connection: %v", err)
		}
		fn(f)
	})
}

func (f *fixture) start() <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- f.agent.Run(context.Background())
	}()
	return done
}

func (f *fixture) disconnect(t *testing.T) {
	c, err := f.fake.FindConnection(context.Background(), nm.ScopeAll)
	if err != nil || c == nil {
		t.Fatalf("no connection to disconnect: %v", err)
	}
	if err = f.fake.Deactivate(context.Background(), c); err != nil {
		t.Fatalf("failed deactivating: %v", err)
	}
}

func wait(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan error) {
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("agent returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("the agent did not stop")
	}
}

func TestActivationFailureRecovers(t *testing.T) {
	withFixture(t, config.KillswitchOn, func(f *fixture) {
		f.fake.OnActivate = func(_ *nm.Connection, attempt int) []nm.Event {
			if attempt == 1 {
				return []nm.Event{
					{State: nm.VPNStatePrepare, Reason: nm.ReasonNone},
					{State: nm.VPNStateFailed, Reason: nm.ReasonConnectTimeout},
				}
			}
			return defaultEvents
		}
		done := f.start()
		wait(t, "the post-connection posture", func() bool {
			return f.fake.Attempts() == 2 && f.nmcli.Active("pvpn-killswitch") && !f.nmcli.Exists("pvpn-routed-killswitch")
		})

		f.disconnect(t)
		waitDone(t, done)

		if diff := cmp.Diff([]time.Duration{DefaultDelay}, f.sched.delays); diff != "" {
			t.Fatalf("retries differ (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{1}, f.sched.failures); diff != "" {
			t.Fatalf("failure counts differ (-want +got):\n%s", diff)
		}
		if f.agent.Failures() != 0 {
			t.Fatalf("got %d failures after the activation, want: 0", f.agent.Failures())
		}
		if f.nmcli.Exists("pvpn-killswitch") {
			t.Fatalf("the kill switch remains after a user disconnect in mode on")
		}
		if len(f.fake.Connections()) != 0 {
			t.Fatalf("the connection was not deleted after a user disconnect")
		}
	})
}

func TestActiveRecordsConnectTime(t *testing.T) {
	withFixture(t, config.KillswitchOff, func(f *fixture) {
		done := f.start()
		wait(t, "the connect time", func() bool {
			c, err := f.md.Current()
			return err == nil && c.ConnectedTime == connectedAt.Unix()
		})
		wait(t, "the IPv6 block", func() bool {
			return f.nmcli.Active("pvpn-ipv6leak-protection")
		})
		f.disconnect(t)
		waitDone(t, done)

		if _, err := f.md.Current(); err == nil {
			t.Fatalf("the current connection record remains after a user disconnect")
		}
		if f.nmcli.Exists("pvpn-ipv6leak-protection") {
			t.Fatalf("the IPv6 block remains after a user disconnect")
		}
		if f.nmcli.Exists("pvpn-killswitch") {
			t.Fatalf("a kill switch was created in mode off")
		}
	})
}

func TestAlwaysOnKeepsKillswitch(t *testing.T) {
	withFixture(t, config.KillswitchAlwaysOn, func(f *fixture) {
		done := f.start()
		wait(t, "the kill switch", func() bool {
			return f.nmcli.Active("pvpn-killswitch")
		})
		f.disconnect(t)
		waitDone(t, done)
		if !f.nmcli.Exists("pvpn-killswitch") || !f.nmcli.Active("pvpn-killswitch") {
			t.Fatalf("the kill switch was removed in always-on mode")
		}
	})
}

func TestGivesUpAfterMax(t *testing.T) {
	withFixture(t, config.KillswitchOff, func(f *fixture) {
		f.agent.opts.Max = 2
		f.fake.OnActivate = func(_ *nm.Connection, _ int) []nm.Event {
			return []nm.Event{{State: nm.VPNStateFailed, Reason: nm.ReasonConnectTimeout}}
		}
		done := f.start()
		wait(t, "three attempts", func() bool {
			return f.fake.Attempts() == 3
		})
		// queued behind the failure of the last attempt
		f.fake.Emit(nm.Event{State: nm.VPNStateDisconnected, Reason: nm.ReasonUserDisconnected})
		waitDone(t, done)

		if diff := cmp.Diff([]int{1, 2}, f.sched.failures); diff != "" {
			t.Fatalf("failure counts differ (-want +got):\n%s", diff)
		}
		if f.agent.Failures() != 0 {
			t.Fatalf("got %d failures after giving up, want: 0", f.agent.Failures())
		}
		if f.fake.Attempts() != 3 {
			t.Fatalf("got %d attempts, want: 3", f.fake.Attempts())
		}
	})
}

func TestMissingConnectionRetries(t *testing.T) {
	withFixture(t, config.KillswitchOff, func(f *fixture) {
		c, _ := f.fake.FindConnection(context.Background(), nm.ScopeAll)
		if err := f.fake.Delete(context.Background(), c); err != nil {
			t.Fatalf("failed deleting: %v", err)
		}
		f.sched.never = true
		done := f.start()
		wait(t, "a scheduled retry", func() bool {
			f.sched.mu.Lock()
			defer f.sched.mu.Unlock()
			return len(f.sched.delays) == 1
		})
		f.fake.Emit(nm.Event{State: nm.VPNStateDisconnected, Reason: nm.ReasonUserDisconnected})
		waitDone(t, done)
		if f.fake.Attempts() != 0 {
			t.Fatalf("got %d attempts without a connection", f.fake.Attempts())
		}
	})
}

func TestNetworkUpActivates(t *testing.T) {
	withFixture(t, config.KillswitchOff, func(f *fixture) {
		f.fake.OnActivate = func(_ *nm.Connection, attempt int) []nm.Event {
			if attempt == 1 {
				return []nm.Event{{State: nm.VPNStateDisconnected, Reason: nm.ReasonNoSecrets}}
			}
			return defaultEvents
		}
		f.sched.never = true
		done := f.start()
		wait(t, "a scheduled retry", func() bool {
			f.sched.mu.Lock()
			defer f.sched.mu.Unlock()
			return len(f.sched.delays) == 1
		})
		f.fake.EmitNetwork(nm.StateConnectedGlobal)
		wait(t, "the second attempt", func() bool {
			return f.fake.Attempts() == 2 && f.nmcli.Active("pvpn-ipv6leak-protection") && f.agent.networkChanges.Load() == 1
		})
		// the tunnel is primary now, a network change does not activate again
		f.fake.EmitNetwork(nm.StateConnectedGlobal)
		wait(t, "the network change", func() bool {
			return f.agent.networkChanges.Load() == 2
		})
		f.disconnect(t)
		waitDone(t, done)
		if f.fake.Attempts() != 2 {
			t.Fatalf("got %d attempts, want: 2", f.fake.Attempts())
		}
	})
}

func TestWatchdogRestartsTunnel(t *testing.T) {
	withFixture(t, config.KillswitchOff, func(f *fixture) {
		var watches int32
		f.agent.opts.Watch = func(_ context.Context) <-chan struct{} {
			c := make(chan struct{}, 1)
			if atomic.AddInt32(&watches, 1) == 1 {
				c <- struct{}{}
			}
			return c
		}
		done := f.start()
		wait(t, "the restart", func() bool {
			return f.fake.Attempts() == 2 && atomic.LoadInt32(&watches) == 2
		})
		f.disconnect(t)
		waitDone(t, done)
		if diff := cmp.Diff([]int{1}, f.sched.failures); diff != "" {
			t.Fatalf("failure counts differ (-want +got):\n%s", diff)
		}
	})
}

func TestUserDisconnectBeforeNetworkChange(t *testing.T) {
	withFixture(t, config.KillswitchOff, func(f *fixture) {
		done := f.start()
		wait(t, "the tunnel", func() bool {
			return f.fake.Attempts() == 1 && f.nmcli.Active("pvpn-ipv6leak-protection")
		})
		seen := f.agent.networkChanges.Load()
		// both are queued before the loop runs again, the disconnect has to win
		f.disconnect(t)
		f.fake.EmitNetwork(nm.StateConnectedGlobal)
		waitDone(t, done)
		if f.fake.Attempts() != 1 {
			t.Fatalf("got %d attempts, want: 1", f.fake.Attempts())
		}
		if got := f.agent.networkChanges.Load(); got != seen {
			t.Fatalf("the network change was handled after the user disconnected")
		}
	})
}
