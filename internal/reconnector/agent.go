// Package reconnector implements the agent that re-establishes the tunnel when it was not stopped by the user
package reconnector

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/killswitch"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
)

const (
	// DefaultDelay is the pause before an activation is retried
	DefaultDelay = 5000 * time.Millisecond
	// DefaultMax is how many retries are scheduled before the agent gives up
	DefaultMax = 100
)

var logger = log.Logger.Component("Reconnector")

// Options are the collaborators of the agent
type Options struct {
	Adapter    nm.Adapter
	Killswitch *killswitch.Killswitch
	Metadata   *metadata.Store
	Mode       func() config.KillswitchMode

	// Delay defaults to DefaultDelay
	Delay time.Duration
	// Max defaults to DefaultMax
	Max int
	// Watch starts the liveness watchdog for an active tunnel, nil disables it
	// The channel receives a value when the tunnel is dropped
	Watch func(ctx context.Context) <-chan struct{}
}

// Agent runs a serial event loop over the NetworkManager signals
// Every field is only touched by the loop
type Agent struct {
	opts  Options
	after func(time.Duration) <-chan time.Time
	now   func() time.Time

	failures int
	retry    <-chan time.Time
	// pending is set while an activation we started has not finished
	pending bool
	// restarting is set when a dropped but active tunnel is activated again
	restarting bool

	watchdog  <-chan struct{}
	stopWatch context.CancelFunc

	// networkChanges counts the handled network states, it is read outside the loop
	networkChanges atomic.Int32
}

// New creates an agent, zero delay and max take the defaults
func New(opts Options) *Agent {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Max <= 0 {
		opts.Max = DefaultMax
	}
	if opts.Mode == nil {
		opts.Mode = func() config.KillswitchMode { return config.KillswitchOff }
	}
	return &Agent{opts: opts, after: time.After, now: time.Now}
}

// Failures returns the current failure count
func (a *Agent) Failures() int {
	return a.failures
}

// Run processes the signals until the user disconnects or ctx is done
// It starts with an activation so that a tunnel that went down while the agent was not running is restored
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.stopWatchdog()

	events, err := a.opts.Adapter.Events(ctx)
	if err != nil {
		return errors.WrapPrefix(err, "failed subscribing to VPN state changes", 0)
	}
	states, err := a.opts.Adapter.NetworkStates(ctx)
	if err != nil {
		return errors.WrapPrefix(err, "failed subscribing to network state changes", 0)
	}

	logger.Infof("Agent started, retry delay: %v, max retries: %d", a.opts.Delay, a.opts.Max)
	a.activateVPN(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Agent stopped")
			return nil
		case s, ok := <-states:
			if !ok {
				return errors.New("the network state stream closed")
			}
			logger.Debugf("Network state changed: %d", s)
			// a VPN state that arrived at the same time goes first, it may be the user disconnecting
			select {
			case ev, ok := <-events:
				if !ok {
					return errors.New("the VPN state stream closed")
				}
				if done := a.handle(ctx, ev); done {
					logger.Infof("Agent stopped by the user")
					return nil
				}
			default:
			}
			if s == nm.StateConnectedGlobal {
				a.activateVPN(ctx)
			}
			a.networkChanges.Add(1)
		case ev, ok := <-events:
			if !ok {
				return errors.New("the VPN state stream closed")
			}
			if done := a.handle(ctx, ev); done {
				logger.Infof("Agent stopped by the user")
				return nil
			}
		case <-a.retry:
			a.retry = nil
			logger.Infof("Retrying activation, failures: %d", a.failures)
			a.activateVPN(ctx)
		case <-a.watchdog:
			a.watchdog = nil
			logger.Warningf("Tunnel dropped, restarting it")
			a.restarting = true
			a.handle(ctx, nm.Event{State: nm.VPNStateFailed, Reason: nm.ReasonUnknown})
		}
	}
}

// handle processes one VPN state change, it returns true when the loop has to end
func (a *Agent) handle(ctx context.Context, ev nm.Event) bool {
	logger.Debugf("VPN state %s, reason %s", ev.State, ev.Reason)
	switch ev.State {
	case nm.VPNStateActive:
		a.onActive(ctx)
	case nm.VPNStateDisconnected:
		if ev.Reason == nm.ReasonUserDisconnected && !a.restarting {
			a.onUserDisconnect(ctx)
			return true
		}
		a.onFailure()
	case nm.VPNStateFailed:
		a.onFailure()
	}
	return false
}

func (a *Agent) onActive(ctx context.Context) {
	a.pending = false
	a.restarting = false
	a.failures = 0
	a.retry = nil

	md := a.opts.Metadata
	if md != nil {
		if err := md.SetConnectedTime(a.now()); err != nil {
			logger.Warningf("Failed updating the connect time: %v", err)
		}
	}
	ks := a.opts.Killswitch
	if err := ks.EnableIPv6Block(ctx); err != nil {
		logger.Warningf("Failed enabling IPv6 leak protection: %v", err)
	}
	if err := ks.Apply(ctx, a.opts.Mode(), killswitch.StagePostConnection, ""); err != nil {
		logger.Warningf("Failed applying the post-connection posture: %v", err)
	}
	a.startWatchdog(ctx)
}

func (a *Agent) onUserDisconnect(ctx context.Context) {
	a.stopWatchdog()
	a.retry = nil
	conn, err := a.opts.Adapter.FindConnection(ctx, nm.ScopeAll)
	if err != nil {
		logger.Warningf("Failed looking up the connection: %v", err)
	}
	if conn != nil {
		if err = a.opts.Adapter.Delete(ctx, conn); err != nil {
			logger.Warningf("Failed deleting the connection: %v", err)
		}
	}
	if md := a.opts.Metadata; md != nil {
		if err = md.ClearCurrent(); err != nil {
			logger.Debugf("Failed clearing the connection metadata: %v", err)
		}
	}
	ks := a.opts.Killswitch
	if err = ks.Apply(ctx, a.opts.Mode(), killswitch.StageDisconnected, ""); err != nil {
		logger.Warningf("Failed applying the disconnected posture: %v", err)
	}
	if err = ks.DisableIPv6Block(ctx); err != nil {
		logger.Warningf("Failed disabling IPv6 leak protection: %v", err)
	}
}

// onFailure schedules a retry unless one is scheduled already
// Once the maximum is exceeded the counter resets and nothing is scheduled
func (a *Agent) onFailure() {
	a.pending = false
	a.stopWatchdog()
	if a.retry != nil {
		return
	}
	if a.failures >= a.opts.Max {
		logger.Errorf("Giving up after %d failed activations", a.failures)
		a.failures = 0
		a.restarting = false
		return
	}
	a.failures++
	logger.Infof("Activation failed (%d/%d), retrying in %v", a.failures, a.opts.Max, a.opts.Delay)
	a.retry = a.after(a.opts.Delay)
}

// activateVPN activates our connection on top of the default route connection
// Any error is turned into a failure so that the retry path runs
func (a *Agent) activateVPN(ctx context.Context) {
	if a.pending {
		logger.Debugf("An activation is in progress")
		return
	}
	if err := a.activate(ctx); err != nil {
		logger.Warningf("Activation failed: %v", err)
		a.handle(ctx, nm.Event{State: nm.VPNStateFailed, Reason: nm.ReasonUnknown})
	}
}

func (a *Agent) activate(ctx context.Context) error {
	ad := a.opts.Adapter
	conn, err := ad.FindConnection(ctx, nm.ScopeAll)
	if err != nil {
		return err
	}
	if conn == nil {
		return errors.New("no ProtonVPN connection")
	}
	base, err := ad.DefaultRouteConnection(ctx)
	if err != nil {
		return err
	}
	if base == nil {
		return errors.New("no connection with a default route")
	}
	if !a.restarting {
		primary, err := ad.PrimaryConnection(ctx)
		if err != nil {
			logger.Debugf("Failed getting the primary connection: %v", err)
		}
		if primary != nil && primary.VPN && primary.Device == nm.VirtualDevice {
			logger.Debugf("The tunnel is the primary connection already")
			a.startWatchdog(ctx)
			return nil
		}
	}

	mode := a.opts.Mode()
	if mode != config.KillswitchOff {
		var ip string
		if md := a.opts.Metadata; md != nil {
			last, err := md.Last()
			if err != nil {
				logger.Debugf("No last connection: %v", err)
			}
			ip = last.IP
		}
		if ip == "" {
			logger.Warningf("Unknown server IP, skipping the pre-connection posture")
		} else if err = a.opts.Killswitch.Apply(ctx, mode, killswitch.StagePreConnection, ip); err != nil {
			return err
		}
	}

	logger.Infof("Activating %s on top of %s", conn.ID, base.ID)
	a.pending = true
	if err = ad.Activate(ctx, conn, base); err != nil {
		a.pending = false
		return err
	}
	return nil
}

func (a *Agent) startWatchdog(ctx context.Context) {
	if a.opts.Watch == nil || a.stopWatch != nil {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	a.stopWatch = cancel
	a.watchdog = a.opts.Watch(wctx)
}

func (a *Agent) stopWatchdog() {
	if a.stopWatch != nil {
		a.stopWatch()
		a.stopWatch = nil
	}
	a.watchdog = nil
}
