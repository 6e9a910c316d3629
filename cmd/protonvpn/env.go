package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/client"
	"github.com/protonvpn/protonvpn-nm-core/internal/keyring"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
	"github.com/protonvpn/protonvpn-nm-core/internal/reconnector"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

const (
	// materialDir overrides the embedded CA and tls-auth key when it holds both
	materialDir = "/usr/share/protonvpn"
	// reconnectorExe is the agent binary, it is installed next to this one
	reconnectorExe = "protonvpn-reconnector"
)

// session is a client with the resources it holds
type session struct {
	*client.Client
	bus *nm.Bus
}

func (s *session) Close() {
	if err := s.bus.Close(); err != nil {
		log.Logger.Debugf("Failed closing the system bus: %v", err)
	}
}

// openSession initialises the log and connects to NetworkManager and the keyring
func openSession(ctx context.Context) (*session, error) {
	paths := util.NewPaths()
	level := log.LevelInfo
	if util.IsDebug() {
		level = log.LevelDebug
	}
	if err := log.Logger.Init(level, paths.LogDir); err != nil {
		return nil, err
	}

	bus, err := nm.Connect(paths.CertDir())
	if err != nil {
		return nil, errors.WrapPrefix(err, "NetworkManager is not reachable on the system bus", 0)
	}
	// pinning only applies to the production API
	apiURL := os.Getenv("PROTONVPN_API_URL")
	c, err := client.New(ctx, client.Environment{
		Paths:       paths,
		Keyring:     keyring.System{},
		Adapter:     bus,
		APIURL:      apiURL,
		Pinning:     apiURL == "",
		MaterialDir: materialDir,
		Reconnector: reconnectorService(paths),
		Debug:       util.IsDebug(),
	})
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return &session{Client: c, bus: bus}, nil
}

// reconnectorService controls the agent through a user unit, nil when the executable cannot be resolved
func reconnectorService(paths util.Paths) client.Reconnector {
	self, err := os.Executable()
	if err != nil {
		log.Logger.Warningf("Reconnector disabled, the executable path is unknown: %v", err)
		return nil
	}
	return &reconnector.Service{
		UnitPath: paths.UnitFile(),
		Exe:      filepath.Join(filepath.Dir(self), reconnectorExe),
	}
}

func closeLog() {
	_ = log.Logger.Close()
}
