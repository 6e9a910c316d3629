package failover

import (
	"context"
	"time"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
)

var logger = log.Logger.Component("Failover")

// DroppedConMon is a connection monitor that checks for an increase in rx bytes after sending pings
type DroppedConMon struct {
	// pInterval is the interval in which pings are sent
	pInterval time.Duration
	// pDropped is how many pings are sent before checking if the connection is dropped
	pDropped int
	// readRxBytes reads the received bytes of the tunnel device, an error stops the monitor
	readRxBytes func() (int64, error)
	newPinger   func(gateway string, mtu int) (sender, error)
}

// NewDroppedMonitor creates a monitor with the ping interval and the amount of pings before the drop check
func NewDroppedMonitor(pingInterval time.Duration, pDropped int, readRxBytes func() (int64, error)) *DroppedConMon {
	return &DroppedConMon{
		pInterval:   pingInterval,
		pDropped:    pDropped,
		readRxBytes: readRxBytes,
		newPinger: func(gateway string, mtu int) (sender, error) {
			return NewPinger(gateway, mtu)
		},
	}
}

// dropped checks whether rx bytes has not increased since startBytes
func (m *DroppedConMon) dropped(startBytes int64) (bool, error) {
	b, err := m.readRxBytes()
	if err != nil {
		return false, err
	}
	logger.Debugf("Alive check, current Rx bytes: %d, start Rx bytes: %d", b, startBytes)
	return b <= startBytes, nil
}

// Start sends pings to gateway and reports whether the tunnel looks dropped
// An early echo reply means the tunnel is alive, otherwise rx bytes decide after pDropped pings
func (m *DroppedConMon) Start(ctx context.Context, gateway string, mtuSize int) (bool, error) {
	if mtuSize < mtuOverhead {
		return false, errors.Errorf("invalid MTU size given, MTU has to be at least: %d bytes", mtuOverhead)
	}
	p, err := m.newPinger(gateway, mtuSize)
	if err != nil {
		return false, err
	}
	if c, ok := p.(interface{ Close() error }); ok {
		defer c.Close()
	}

	b, err := m.readRxBytes()
	if err != nil {
		return false, err
	}

	if err = p.Send(1); err != nil {
		logger.Debugf("First ping failed, exiting...")
		return false, err
	}
	if err = p.Read(time.Now().Add(m.pInterval)); err == nil {
		logger.Debugf("Got early pong, exiting...")
		return false, nil
	}
	logger.Debugf("Error reading pong: %v", err)

	ticker := time.NewTicker(m.pInterval)
	defer ticker.Stop()

	// sequence 1 was sent already
	for s := 2; s <= m.pDropped; s++ {
		logger.Debugf("Sending ping: %d, with size: %d", s, mtuSize)
		if err := p.Send(s); err != nil {
			logger.Debugf("A ping failed, exiting...")
			return false, err
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return false, errors.WrapPrefix(context.Canceled, "failover was stopped", 0)
		}
	}
	return m.dropped(b)
}
