// Package config implements the user settings that are persisted as a JSON file
// A template with the defaults is written on first run
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/go-errors/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// MaxCustomDNS is the maximum number of custom DNS servers
const MaxCustomDNS = 3

// Settings are the user preferences
type Settings struct {
	Protocol    protocol.Protocol `json:"default_protocol"`
	Killswitch  KillswitchMode    `json:"killswitch"`
	DNS         DNSMode           `json:"dns"`
	CustomDNS   []string          `json:"custom_dns"`
	NetShield   NetShield         `json:"netshield"`
	SplitTunnel []string          `json:"split_tunnel"`
	// Reconnect runs the reconnection agent after connecting
	Reconnect bool `json:"reconnect"`
}

// Default returns the settings that are written to the template
func Default() Settings {
	return Settings{
		Protocol:    protocol.UDP,
		Killswitch:  KillswitchOff,
		DNS:         DNSAutomatic,
		CustomDNS:   []string{},
		NetShield:   NetShieldOff,
		SplitTunnel: []string{},
		Reconnect:   true,
	}
}

// TooManyDNSError is returned when more custom DNS servers are given than supported
type TooManyDNSError struct {
	Count int
}

func (e *TooManyDNSError) Error() string {
	return fmt.Sprintf("too many custom DNS servers: %d, at most %d are supported", e.Count, MaxCustomDNS)
}

// ValidateDNS checks a custom DNS list
func ValidateDNS(servers []string) error {
	if len(servers) > MaxCustomDNS {
		return &TooManyDNSError{Count: len(servers)}
	}
	for _, s := range servers {
		if err := util.ValidateIPv4(s); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every field of the settings
func (s Settings) Validate() error {
	if s.Protocol == protocol.Unknown {
		return &protocol.InvalidProtocolError{Protocol: s.Protocol.String()}
	}
	if err := ValidateDNS(s.CustomDNS); err != nil {
		return err
	}
	if s.DNS == DNSCustom && len(s.CustomDNS) == 0 {
		return errors.New("custom DNS is selected but no servers are configured")
	}
	for _, ip := range s.SplitTunnel {
		if err := util.ValidateIPv4(ip); err != nil {
			return err
		}
	}
	return nil
}

// Config is the settings file together with the loaded settings
type Config struct {
	mu       sync.Mutex
	path     string
	settings Settings
}

// Load reads the settings file at path
// A missing file is created with the defaults, an invalid file falls back to the defaults
func Load(path string) (*Config, error) {
	c := &Config{path: path, settings: Default()}
	b, err := lockedfile.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.WrapPrefix(err, "failed reading settings", 0)
		}
		log.Logger.Infof("No settings found, writing the template to: %s", path)
		if err = c.save(); err != nil {
			return nil, err
		}
		return c, nil
	}
	s := Default()
	if err = json.Unmarshal(b, &s); err != nil {
		log.Logger.Warningf("Settings at %s are invalid, using the defaults: %v", path, err)
		return c, nil
	}
	if err = s.Validate(); err != nil {
		log.Logger.Warningf("Settings at %s do not validate, using the defaults: %v", path, err)
		return c, nil
	}
	c.settings = s
	return c, nil
}

// cloneList copies a list, an absent list becomes empty so it is written as []
func cloneList(l []string) []string {
	out := make([]string, len(l))
	copy(out, l)
	return out
}

// Settings returns a copy of the settings
func (c *Config) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.settings
	s.CustomDNS = cloneList(c.settings.CustomDNS)
	s.SplitTunnel = cloneList(c.settings.SplitTunnel)
	return s
}

func (c *Config) save() error {
	if err := util.EnsureDirectory(filepath.Dir(c.path)); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c.settings, "", "    ")
	if err != nil {
		return errors.WrapPrefix(err, "failed encoding settings", 0)
	}
	if err = lockedfile.Write(c.path, bytes.NewReader(b), 0o600); err != nil {
		return errors.WrapPrefix(err, "failed writing settings", 0)
	}
	return nil
}

// update validates the settings after f changed them and saves them
// Invalid settings are not applied
func (c *Config) update(f func(*Settings)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.settings
	f(&s)
	if err := s.Validate(); err != nil {
		return err
	}
	prev := c.settings
	c.settings = s
	if err := c.save(); err != nil {
		c.settings = prev
		return err
	}
	return nil
}

// SetProtocol sets the default protocol
func (c *Config) SetProtocol(p protocol.Protocol) error {
	return c.update(func(s *Settings) { s.Protocol = p })
}

// SetKillswitch sets the kill switch mode
func (c *Config) SetKillswitch(m KillswitchMode) error {
	return c.update(func(s *Settings) { s.Killswitch = m })
}

// SetDNS sets the DNS mode, servers is only used for custom DNS
func (c *Config) SetDNS(m DNSMode, servers []string) error {
	return c.update(func(s *Settings) {
		s.DNS = m
		if m == DNSCustom {
			s.CustomDNS = cloneList(servers)
		}
	})
}

// SetNetShield sets the netshield level
func (c *Config) SetNetShield(n NetShield) error {
	return c.update(func(s *Settings) { s.NetShield = n })
}

// SetSplitTunnel sets the IPs that are excluded from the tunnel
func (c *Config) SetSplitTunnel(ips []string) error {
	return c.update(func(s *Settings) { s.SplitTunnel = cloneList(ips) })
}

// SetReconnect enables or disables the reconnection agent
func (c *Config) SetReconnect(enabled bool) error {
	return c.update(func(s *Settings) { s.Reconnect = enabled })
}

// Reset restores the defaults
func (c *Config) Reset() error {
	return c.update(func(s *Settings) { *s = Default() })
}
