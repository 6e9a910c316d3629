// Package server contains the public types that describe what to connect to and what we are connected to
package server

import (
	"time"

	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// Kind is the kind of connect intent
type Kind int8

const (
	// KindUnknown is an unset intent
	KindUnknown Kind = iota
	// KindFastest connects to the fastest eligible server
	KindFastest
	// KindRandom connects to a random eligible server
	KindRandom
	// KindCountry connects to the fastest server in a country, Value is the ISO code
	KindCountry
	// KindServername connects to a server by name, Value is the servername
	KindServername
	// KindSecureCore connects to the fastest secure core server
	KindSecureCore
	// KindP2P connects to the fastest P2P server
	KindP2P
	// KindTor connects to the fastest Tor server
	KindTor
	// KindPrevious reconnects to the last connected server
	KindPrevious
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindFastest:    "fastest",
	KindRandom:     "random",
	KindCountry:    "country",
	KindServername: "servername",
	KindSecureCore: "secure-core",
	KindP2P:        "p2p",
	KindTor:        "tor",
	KindPrevious:   "previous",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Intent is what the user asked to connect to
type Intent struct {
	Kind Kind
	// Value is the country code or servername, depending on Kind
	Value string
	// Protocol is the transport, Unknown means the default from the settings
	Protocol protocol.Protocol
}

// Status is the state of the current connection as shown to the user
type Status struct {
	Connected   bool
	Server      string
	Country     string
	City        string
	ExitIP      string
	Protocol    protocol.Protocol
	ConnectedAt time.Time
	Load        int
	Features    []string
	Killswitch  string
}

// Duration returns how long the connection has been established
func (s Status) Duration(now time.Time) time.Duration {
	if !s.Connected || s.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ConnectedAt).Truncate(time.Second)
}
