package failover

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/test"
)

// mockedPinger is a ping sender that always returns nil for sending
// but returns EOF for reading
type mockedPinger struct{}

func (mp *mockedPinger) Read(_ time.Time) error {
	return io.EOF
}

func (mp *mockedPinger) Send(_ int) error {
	return nil
}

// pongPinger answers the first ping
type pongPinger struct{}

func (pp *pongPinger) Read(_ time.Time) error {
	return nil
}

func (pp *pongPinger) Send(_ int) error {
	return nil
}

func TestMonitor(t *testing.T) {
	cases := []struct {
		readRxBytes  func() (int64, error)
		mtuSize      int
		mockedPinger func(gateway string, mtu int) (sender, error)
		wantDropped  bool
		wantErr      string
	}{
		{
			mtuSize: 1,
			wantErr: "invalid MTU size given, MTU has to be at least: 28 bytes",
		},
		{
			readRxBytes: func() (int64, error) {
				return 0, errors.New("error test")
			},
			wantErr: "error test",
		},
		// rx bytes does not increase but the gateway answers
		{
			readRxBytes: func() (int64, error) {
				return 0, nil
			},
			mockedPinger: func(_ string, _ int) (sender, error) {
				return &pongPinger{}, nil
			},
		},
		// rx bytes increases without pong
		{},
		// rx bytes does not increase and no pong
		{
			readRxBytes: func() (int64, error) {
				return 0, nil
			},
			wantDropped: true,
		},
		{
			mockedPinger: func(_ string, _ int) (sender, error) {
				return nil, errors.New("no socket")
			},
			wantErr: "no socket",
		},
	}

	for _, c := range cases {
		var counter int64
		if c.mtuSize == 0 {
			c.mtuSize = 28
		}
		if c.readRxBytes == nil {
			c.readRxBytes = func() (int64, error) {
				defer func() {
					counter++
				}()
				return counter, nil
			}
		}
		if c.mockedPinger == nil {
			c.mockedPinger = func(_ string, _ int) (sender, error) {
				return &mockedPinger{}, nil
			}
		}
		dcm := NewDroppedMonitor(time.Millisecond, 5, c.readRxBytes)
		dcm.newPinger = c.mockedPinger
		dropped, err := dcm.Start(context.Background(), "10.8.0.1", c.mtuSize)
		if dropped != c.wantDropped {
			t.Fatalf("dropped is not equal to want dropped, got: %v, want: %v", dropped, c.wantDropped)
		}
		test.AssertError(t, err, c.wantErr)
	}
}

func TestRxBytes(t *testing.T) {
	dir := t.TempDir()
	prev := sysClassNet
	sysClassNet = dir
	defer func() { sysClassNet = prev }()

	stats := filepath.Join(dir, "proton0", "statistics")
	if err := os.MkdirAll(stats, 0o700); err != nil {
		t.Fatalf("failed creating statistics: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stats, "rx_bytes"), []byte("12345\n"), 0o600); err != nil {
		t.Fatalf("failed writing rx bytes: %v", err)
	}
	n, err := RxBytes("proton0")()
	if err != nil || n != 12345 {
		t.Fatalf("got: %d, %v, want: 12345", n, err)
	}
	if _, err = RxBytes("proton1")(); err == nil {
		t.Fatalf("read rx bytes of a missing interface")
	}
}

func TestWatchReportsDrop(t *testing.T) {
	dcm := NewDroppedMonitor(time.Millisecond, 2, func() (int64, error) { return 0, nil })
	dcm.newPinger = func(_ string, _ int) (sender, error) { return &mockedPinger{}, nil }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	select {
	case <-Watch(ctx, dcm, "10.8.0.1", time.Millisecond):
	case <-time.After(5 * time.Second):
		t.Fatalf("no drop reported")
	}
}
