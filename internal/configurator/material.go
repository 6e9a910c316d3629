package configurator

import (
	_ "embed"
	"strings"
)

// eCA is the embedded certificate authority of the VPN servers
//
//go:embed material/ca.crt
var eCA string

// eTLSAuth is the embedded tls-auth key of the VPN servers
//
//go:embed material/ta.key
var eTLSAuth string

// DefaultMaterial returns the material shipped inside the binary
func DefaultMaterial() Material {
	return Material{CA: strings.TrimSpace(eCA), TLSAuth: strings.TrimSpace(eTLSAuth)}
}
