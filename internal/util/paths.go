package util

import (
	"os"
	"path/filepath"
)

const appDir = "protonvpn"

// Paths holds the XDG locations of every file the core reads or writes
type Paths struct {
	ConfigDir string
	CacheDir  string
	DataDir   string
	LogDir    string
	UnitDir   string
}

func xdg(env string, fallback ...string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// NewPaths resolves the paths from the XDG environment variables
func NewPaths() Paths {
	config := xdg("XDG_CONFIG_HOME", ".config")
	cache := filepath.Join(xdg("XDG_CACHE_HOME", ".cache"), appDir)
	return Paths{
		ConfigDir: filepath.Join(config, appDir),
		CacheDir:  cache,
		DataDir:   filepath.Join(xdg("XDG_DATA_HOME", ".local", "share"), appDir),
		LogDir:    filepath.Join(cache, "logs"),
		UnitDir:   filepath.Join(config, "systemd", "user"),
	}
}

// PathsFromRoot places every directory below root, used by tests
func PathsFromRoot(root string) Paths {
	return Paths{
		ConfigDir: filepath.Join(root, "config", appDir),
		CacheDir:  filepath.Join(root, "cache", appDir),
		DataDir:   filepath.Join(root, "data", appDir),
		LogDir:    filepath.Join(root, "cache", appDir, "logs"),
		UnitDir:   filepath.Join(root, "config", "systemd", "user"),
	}
}

// Settings is the user settings JSON file
func (p Paths) Settings() string {
	return filepath.Join(p.ConfigDir, "user_configurations.json")
}

// ServerList is the cached catalog snapshot
func (p Paths) ServerList() string {
	return filepath.Join(p.CacheDir, "cached_serverlist.json")
}

// OpenVPNConfig is the transient tunnel configuration
func (p Paths) OpenVPNConfig() string {
	return filepath.Join(p.CacheDir, "ProtonVPN.ovpn")
}

// ConnectionMetadata is the record of the current connection
func (p Paths) ConnectionMetadata() string {
	return filepath.Join(p.CacheDir, "connection_metadata.json")
}

// LastConnectionMetadata is the record that survives a disconnect
func (p Paths) LastConnectionMetadata() string {
	return filepath.Join(p.CacheDir, "last_connection_metadata.json")
}

// CacheMetadata holds the refresh deadlines of the catalog and client config
func (p Paths) CacheMetadata() string {
	return filepath.Join(p.CacheDir, "cache_metadata.json")
}

// ClientConfig is the cached client configuration with the default ports
func (p Paths) ClientConfig() string {
	return filepath.Join(p.CacheDir, "clientconfig.json")
}

// CertDir is where inline certificates of an imported configuration are stored
func (p Paths) CertDir() string {
	return filepath.Join(p.DataDir, "nm-openvpn")
}

// UnitFile is the installed reconnector service
func (p Paths) UnitFile() string {
	return filepath.Join(p.UnitDir, "protonvpn_reconnect.service")
}
