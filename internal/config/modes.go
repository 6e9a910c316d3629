package config

import "fmt"

// KillswitchMode is the leak protection mode
type KillswitchMode int8

const (
	// KillswitchOff does not block traffic
	KillswitchOff KillswitchMode = iota
	// KillswitchOn blocks traffic while connected, removed on disconnect
	KillswitchOn
	// KillswitchAlwaysOn blocks traffic even after an explicit disconnect
	KillswitchAlwaysOn
)

// DNSMode is how DNS is handled while connected
type DNSMode int8

const (
	// DNSAutomatic uses the DNS pushed by the VPN server
	DNSAutomatic DNSMode = iota
	// DNSCustom uses the configured custom servers
	DNSCustom
	// DNSDisabled leaves DNS to the host, it is treated as automatic while connected
	DNSDisabled
)

// NetShield is the DNS filtering level
type NetShield int8

const (
	// NetShieldOff disables filtering
	NetShieldOff NetShield = iota
	// NetShieldMalware blocks malware
	NetShieldMalware
	// NetShieldAdsMalware blocks ads, trackers and malware
	NetShieldAdsMalware
)

// enum is the shared text encoding of the setting modes
type enum[T ~int8] struct {
	kind  string
	names map[T]string
}

func (e enum[T]) text(v T) ([]byte, error) {
	if n, ok := e.names[v]; ok {
		return []byte(n), nil
	}
	return nil, fmt.Errorf("invalid %s: %d", e.kind, v)
}

func (e enum[T]) parse(b []byte) (T, error) {
	for v, n := range e.names {
		if n == string(b) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("invalid %s: '%s'", e.kind, string(b))
}

func (e enum[T]) list() []string {
	out := make([]string, 0, len(e.names))
	for v := T(0); int(v) < len(e.names); v++ {
		out = append(out, e.names[v])
	}
	return out
}

var (
	killswitchEnum = enum[KillswitchMode]{kind: "kill switch mode", names: map[KillswitchMode]string{
		KillswitchOff: "off", KillswitchOn: "on", KillswitchAlwaysOn: "always-on",
	}}
	dnsEnum = enum[DNSMode]{kind: "DNS mode", names: map[DNSMode]string{
		DNSAutomatic: "automatic", DNSCustom: "custom", DNSDisabled: "off",
	}}
	netshieldEnum = enum[NetShield]{kind: "netshield level", names: map[NetShield]string{
		NetShieldOff: "off", NetShieldMalware: "malware", NetShieldAdsMalware: "ads-malware",
	}}
)

func (m KillswitchMode) String() string {
	b, err := killswitchEnum.text(m)
	if err != nil {
		return "unknown"
	}
	return string(b)
}

// MarshalText implements encoding.TextMarshaler
func (m KillswitchMode) MarshalText() ([]byte, error) { return killswitchEnum.text(m) }

// UnmarshalText implements encoding.TextUnmarshaler
func (m *KillswitchMode) UnmarshalText(b []byte) (err error) {
	*m, err = killswitchEnum.parse(b)
	return err
}

// ParseKillswitch parses a kill switch mode name
func ParseKillswitch(s string) (KillswitchMode, error) { return killswitchEnum.parse([]byte(s)) }

// KillswitchModes lists the mode names
func KillswitchModes() []string { return killswitchEnum.list() }

func (m DNSMode) String() string {
	b, err := dnsEnum.text(m)
	if err != nil {
		return "unknown"
	}
	return string(b)
}

// MarshalText implements encoding.TextMarshaler
func (m DNSMode) MarshalText() ([]byte, error) { return dnsEnum.text(m) }

// UnmarshalText implements encoding.TextUnmarshaler
func (m *DNSMode) UnmarshalText(b []byte) (err error) {
	*m, err = dnsEnum.parse(b)
	return err
}

// ParseDNS parses a DNS mode name
func ParseDNS(s string) (DNSMode, error) { return dnsEnum.parse([]byte(s)) }

// DNSModes lists the mode names
func DNSModes() []string { return dnsEnum.list() }

func (n NetShield) String() string {
	b, err := netshieldEnum.text(n)
	if err != nil {
		return "unknown"
	}
	return string(b)
}

// MarshalText implements encoding.TextMarshaler
func (n NetShield) MarshalText() ([]byte, error) { return netshieldEnum.text(n) }

// UnmarshalText implements encoding.TextUnmarshaler
func (n *NetShield) UnmarshalText(b []byte) (err error) {
	*n, err = netshieldEnum.parse(b)
	return err
}

// ParseNetShield parses a netshield level name
func ParseNetShield(s string) (NetShield, error) { return netshieldEnum.parse([]byte(s)) }

// NetShieldLevels lists the level names
func NetShieldLevels() []string { return netshieldEnum.list() }
