// Package killswitch protects against traffic leaking outside of the tunnel
// It owns three dummy connections that it creates through nmcli and re-reads their state before every action
package killswitch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/internal/shellx"
)

// maxAttempts is how often a posture change is tried before giving up
const maxAttempts = 5

const (
	// codeUnknownConnection is returned by nmcli when the connection does not exist
	codeUnknownConnection = 10
	// codeInvalidArgument is returned by nmcli versions that reject the routes property of a dummy
	codeInvalidArgument = 2
)

var logger = log.Logger.Component("Killswitch")

// LeakProtectionError is returned when nmcli failed changing a dummy connection
type LeakProtectionError struct {
	Action string
	Code   int
	Stderr string
}

func (e *LeakProtectionError) Error() string {
	msg := fmt.Sprintf("failed to %s, nmcli exited with code %d", e.Action, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// AvailableConnectivityCheckError is returned when the NetworkManager connectivity check is enabled but cannot be changed
type AvailableConnectivityCheckError struct{}

func (e *AvailableConnectivityCheckError) Error() string {
	return "the NetworkManager connectivity check is enabled but cannot be disabled, it would conflict with the kill switch"
}

// PostureError is returned when a posture was not reached within the attempts
type PostureError struct {
	Posture string
	Err     error
}

func (e *PostureError) Error() string {
	if e.Err == nil {
		return "could not reach the " + e.Posture + " posture"
	}
	return "could not reach the " + e.Posture + " posture: " + e.Err.Error()
}

func (e *PostureError) Unwrap() error {
	return e.Err
}

// state is whether a dummy connection exists and is active
type state struct {
	exists bool
	active bool
}

// tracker is the last known state of the dummy connections
type tracker map[string]state

// Killswitch is the leak protection orchestrator
type Killswitch struct {
	adapter nm.Adapter
	posture tracker
}

// New creates the orchestrator, the adapter is used for the connectivity check
func New(adapter nm.Adapter) *Killswitch {
	return &Killswitch{adapter: adapter, posture: tracker{}}
}

func nmcli(ctx context.Context, args ...string) (*shellx.Result, error) {
	argv, err := shellx.NewArgv("nmcli", args...)
	if err != nil {
		return nil, err
	}
	return shellx.Exec(ctx, argv)
}

func names(b []byte) map[string]bool {
	out := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if n := strings.TrimSpace(sc.Text()); n != "" {
			out[n] = true
		}
	}
	return out
}

// refresh repopulates the tracker from NetworkManager
func (k *Killswitch) refresh(ctx context.Context) error {
	all, err := nmcli(ctx, "-t", "-f", "NAME", "connection", "show")
	if err != nil {
		return err
	}
	if all.ExitCode != 0 {
		return &LeakProtectionError{Action: "list connections", Code: all.ExitCode, Stderr: string(all.Stderr)}
	}
	active, err := nmcli(ctx, "-t", "-f", "NAME", "connection", "show", "--active")
	if err != nil {
		return err
	}
	if active.ExitCode != 0 {
		return &LeakProtectionError{Action: "list active connections", Code: active.ExitCode, Stderr: string(active.Stderr)}
	}
	exists, on := names(all.Stdout), names(active.Stdout)
	k.posture = tracker{}
	for _, d := range []dummy{killswitchConn, routedConn, ipv6Conn} {
		k.posture[d.name] = state{exists: exists[d.name], active: on[d.name]}
	}
	return nil
}

func (k *Killswitch) create(ctx context.Context, d dummy, routes []string) error {
	if k.posture[d.name].exists {
		return nil
	}
	res, err := nmcli(ctx, d.addArgs(routes, "ipv4.routes")...)
	if err != nil {
		return err
	}
	if res.ExitCode == codeInvalidArgument && len(routes) > 0 {
		logger.Warningf("nmcli rejected the routes of %s, retrying with addresses", d.name)
		if res, err = nmcli(ctx, d.addArgs(routes, "ipv4.addresses")...); err != nil {
			return err
		}
	}
	if res.ExitCode != 0 {
		return &LeakProtectionError{Action: "create " + d.name, Code: res.ExitCode, Stderr: string(res.Stderr)}
	}
	logger.Infof("Created %s", d.name)
	return nil
}

// change runs up, down or delete, a missing connection is fine unless the connection is brought up
func (k *Killswitch) change(ctx context.Context, verb string, d dummy) error {
	res, err := nmcli(ctx, "connection", verb, d.name)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 || (res.ExitCode == codeUnknownConnection && verb != "up") {
		logger.Debugf("%s %s", verb, d.name)
		return nil
	}
	return &LeakProtectionError{Action: verb + " " + d.name, Code: res.ExitCode, Stderr: string(res.Stderr)}
}

// ensureActive creates the connection if needed and brings it up
func (k *Killswitch) ensureActive(ctx context.Context, d dummy, routes []string) error {
	if err := k.create(ctx, d, routes); err != nil {
		return err
	}
	if err := k.refresh(ctx); err != nil {
		return err
	}
	if k.posture[d.name].active {
		return nil
	}
	return k.change(ctx, "up", d)
}

func (k *Killswitch) remove(ctx context.Context, d dummy) error {
	if !k.posture[d.name].exists {
		return nil
	}
	return k.change(ctx, "delete", d)
}

// retry runs step until reached reports the posture after a fresh read or the attempts are exhausted
func (k *Killswitch) retry(ctx context.Context, posture string, step func() error, reached func() bool) error {
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := k.refresh(ctx); err != nil {
			return err
		}
		if err := step(); err != nil {
			last = err
			logger.Warningf("attempt %d/%d for the %s posture failed: %v", attempt, maxAttempts, posture, err)
		}
		if err := k.refresh(ctx); err != nil {
			return err
		}
		if reached() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return &PostureError{Posture: posture, Err: last}
}

// checkConnectivityCheck disables the NetworkManager connectivity check which conflicts with blocking routes
func (k *Killswitch) checkConnectivityCheck(ctx context.Context) error {
	available, enabled, err := k.adapter.ConnectivityCheck(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	if !available {
		return &AvailableConnectivityCheckError{}
	}
	logger.Infof("Disabling the NetworkManager connectivity check")
	return k.adapter.SetConnectivityCheck(ctx, false)
}

// EnableIPv6Block creates the IPv6 leak protection if it is absent
func (k *Killswitch) EnableIPv6Block(ctx context.Context) error {
	if err := k.refresh(ctx); err != nil {
		return err
	}
	return k.ensureActive(ctx, ipv6Conn, nil)
}

// DisableIPv6Block deletes the IPv6 leak protection if it is present
func (k *Killswitch) DisableIPv6Block(ctx context.Context) error {
	if err := k.refresh(ctx); err != nil {
		return err
	}
	return k.remove(ctx, ipv6Conn)
}

// PreConnection routes everything except serverIP into a blocking dummy and takes the kill switch down
func (k *Killswitch) PreConnection(ctx context.Context, serverIP string) error {
	routes, err := ExcludeIP(serverIP)
	if err != nil {
		return err
	}
	if err = k.checkConnectivityCheck(ctx); err != nil {
		return err
	}
	return k.retry(ctx, "pre-connection", func() error {
		if err := k.ensureActive(ctx, routedConn, routes); err != nil {
			return err
		}
		if k.posture[killswitchConn.name].active {
			return k.change(ctx, "down", killswitchConn)
		}
		return nil
	}, func() bool {
		return k.posture[routedConn.name].active && !k.posture[killswitchConn.name].active
	})
}

// PostConnection brings the kill switch up and removes the routed exception
func (k *Killswitch) PostConnection(ctx context.Context) error {
	if err := k.checkConnectivityCheck(ctx); err != nil {
		return err
	}
	return k.retry(ctx, "post-connection", func() error {
		if err := k.ensureActive(ctx, killswitchConn, nil); err != nil {
			return err
		}
		return k.remove(ctx, routedConn)
	}, func() bool {
		return k.posture[killswitchConn.name].active && !k.posture[routedConn.name].exists
	})
}

// Soft creates the kill switch and moves to the post-connection posture
func (k *Killswitch) Soft(ctx context.Context) error {
	return k.PostConnection(ctx)
}

// Disable deletes the kill switch and the routed exception
func (k *Killswitch) Disable(ctx context.Context) error {
	if err := k.refresh(ctx); err != nil {
		return err
	}
	if err := k.remove(ctx, killswitchConn); err != nil {
		return err
	}
	return k.remove(ctx, routedConn)
}

// Active returns whether the kill switch connection is active
func (k *Killswitch) Active(ctx context.Context) (bool, error) {
	if err := k.refresh(ctx); err != nil {
		return false, err
	}
	return k.posture[killswitchConn.name].active, nil
}

// Stage is the point of the connection lifecycle at which the posture is applied
type Stage int8

const (
	// StagePreConnection is right before the tunnel is activated
	StagePreConnection Stage = iota
	// StagePostConnection is when the tunnel is active
	StagePostConnection
	// StageDisconnected is after the tunnel was removed by the user
	StageDisconnected
)

// Apply runs the action that mode prescribes for stage
//
//	mode       pre-connection    post-connection   disconnected
//	off        -                 -                 -
//	on         routed exception  kill switch up    delete kill switch
//	always-on  routed exception  kill switch up    kill switch remains
func (k *Killswitch) Apply(ctx context.Context, mode config.KillswitchMode, stage Stage, serverIP string) error {
	if mode == config.KillswitchOff {
		return nil
	}
	switch stage {
	case StagePreConnection:
		return k.PreConnection(ctx, serverIP)
	case StagePostConnection:
		return k.PostConnection(ctx)
	case StageDisconnected:
		if mode == config.KillswitchAlwaysOn {
			logger.Infof("Always-on mode, keeping the kill switch")
			return nil
		}
		return k.Disable(ctx)
	default:
		return errors.Errorf("unknown stage %d", stage)
	}
}

// Configure applies a changed mode, connected is whether the tunnel is up
func (k *Killswitch) Configure(ctx context.Context, mode config.KillswitchMode, connected bool) error {
	switch {
	case mode == config.KillswitchOff:
		return k.Disable(ctx)
	case mode == config.KillswitchAlwaysOn || connected:
		return k.Soft(ctx)
	default:
		return k.Disable(ctx)
	}
}
