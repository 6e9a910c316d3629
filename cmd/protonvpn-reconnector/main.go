// Command protonvpn-reconnector runs the reconnection agent, it is started by the user service manager
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/failover"
	"github.com/protonvpn/protonvpn-nm-core/internal/killswitch"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/metadata"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/internal/reconnector"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

// watchdog returns the liveness watch of the tunnel that is up on adapter
func watchdog(adapter nm.Adapter) func(ctx context.Context) <-chan struct{} {
	return func(ctx context.Context) <-chan struct{} {
		gw, err := adapter.Gateway(ctx)
		if err != nil || gw == "" {
			log.Logger.Warningf("Not watching the tunnel, no gateway: %v", err)
			return nil
		}
		m := failover.New(failover.RxBytes(nm.VirtualDevice))
		return failover.Watch(ctx, m, gw, failover.DefaultCheckInterval)
	}
}

// killswitchMode reads the mode from the settings at path on every call
// The CLI changes it while the agent runs, a failed read keeps the last mode
func killswitchMode(path string, initial config.KillswitchMode) func() config.KillswitchMode {
	var mu sync.Mutex
	last := initial
	return func() config.KillswitchMode {
		mu.Lock()
		defer mu.Unlock()
		cfg, err := config.Load(path)
		if err != nil {
			log.Logger.Warningf("Failed reloading the settings, keeping kill switch mode %v: %v", last, err)
			return last
		}
		last = cfg.Settings().Killswitch
		return last
	}
}

func run(ctx context.Context) error {
	paths := util.NewPaths()
	level := log.LevelInfo
	if util.IsDebug() {
		level = log.LevelDebug
	}
	if err := log.Logger.Init(level, paths.LogDir); err != nil {
		return err
	}
	defer log.Logger.Close()

	cfg, err := config.Load(paths.Settings())
	if err != nil {
		return err
	}
	bus, err := nm.Connect(paths.CertDir())
	if err != nil {
		return err
	}
	defer bus.Close()

	agent := reconnector.New(reconnector.Options{
		Adapter:    bus,
		Killswitch: killswitch.New(bus),
		Metadata:   metadata.NewStore(paths),
		Mode:       killswitchMode(paths.Settings(), cfg.Settings().Killswitch),
		Watch:      watchdog(bus),
	})
	return agent.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reconnector failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}
