// Package protocol contains the public types that have to do with VPN transport protocols
package protocol

import "fmt"

// Protocol defines an 'enumeration' of OpenVPN transport protocols
type Protocol int8

const (
	// Unknown indicates that the protocol is not known
	Unknown Protocol = iota
	// UDP indicates OpenVPN over UDP
	UDP
	// TCP indicates OpenVPN over TCP
	TCP
)

// New creates a new protocol type from a string
func New(p string) Protocol {
	switch p {
	case "udp", "UDP":
		return UDP
	case "tcp", "TCP":
		return TCP
	default:
		return Unknown
	}
}

// InvalidProtocolError is returned when a protocol is not supported
type InvalidProtocolError struct {
	Protocol string
}

func (e *InvalidProtocolError) Error() string {
	return fmt.Sprintf("invalid protocol: '%s', must be one of: udp, tcp", e.Protocol)
}

// Parse is New that returns an error for unknown protocols
func Parse(p string) (Protocol, error) {
	proto := New(p)
	if proto == Unknown {
		return Unknown, &InvalidProtocolError{Protocol: p}
	}
	return proto, nil
}

// String returns the lowercase name as used in OpenVPN configs
func (p Protocol) String() string {
	switch p {
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Display returns the name that is shown to users, e.g. OpenVPN (UDP)
func (p Protocol) Display() string {
	switch p {
	case UDP:
		return "OpenVPN (UDP)"
	case TCP:
		return "OpenVPN (TCP)"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so settings and metadata store the name
func (p Protocol) MarshalText() ([]byte, error) {
	if p == Unknown {
		return nil, &InvalidProtocolError{Protocol: "unknown"}
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
