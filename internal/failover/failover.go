// Package failover detects a tunnel that is up according to NetworkManager but no longer passes traffic
package failover

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-errors/errors"
)

const (
	// pInterval is the interval between pings to the gateway
	pInterval time.Duration = 2 * time.Second

	// pDropped is how many pings are sent before checking if the connection is dropped
	pDropped int = 5

	// DefaultMTU is the ping size, it matches the tun-mtu of the configuration
	DefaultMTU = 1500

	// DefaultCheckInterval is the pause between two liveness checks
	DefaultCheckInterval = time.Minute
)

// New creates a failover monitor with the default settings for the rx bytes reader
func New(readRxBytes func() (int64, error)) *DroppedConMon {
	return NewDroppedMonitor(pInterval, pDropped, readRxBytes)
}

// sysClassNet is where the kernel exposes the interface statistics
var sysClassNet = "/sys/class/net"

// RxBytes returns a reader for the received bytes of the network interface iface
func RxBytes(iface string) func() (int64, error) {
	return func() (int64, error) {
		b, err := os.ReadFile(filepath.Join(sysClassNet, iface, "statistics", "rx_bytes"))
		if err != nil {
			return 0, errors.WrapPrefix(err, "failed reading rx bytes of "+iface, 0)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
		if err != nil {
			return 0, errors.WrapPrefix(err, "failed parsing rx bytes of "+iface, 0)
		}
		return n, nil
	}
}

// Watch runs the monitor every interval until ctx is done
// The returned channel receives a value once when the tunnel is found dropped, then watching stops
func Watch(ctx context.Context, m *DroppedConMon, gateway string, interval time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		t := time.NewTimer(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			dropped, err := m.Start(ctx, gateway, DefaultMTU)
			if err != nil {
				// errors mean we don't know, check again later
				logger.Debugf("Liveness check failed: %v", err)
			}
			if dropped {
				logger.Warningf("The tunnel looks dropped")
				out <- struct{}{}
				return
			}
			t.Reset(interval)
		}
	}()
	return out
}
