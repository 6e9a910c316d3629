// Package configurator renders the OpenVPN configuration of a server and decorates the OpenVPN username
package configurator

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
	"github.com/protonvpn/protonvpn-nm-core/internal/config"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
	"github.com/protonvpn/protonvpn-nm-core/types/protocol"
)

// PlatformSuffix marks the OpenVPN username as coming from the Linux client
const PlatformSuffix = "pl"

// ErrNoIPs is returned when the server has no entry IP
var ErrNoIPs = errors.New("no server IPs to render")

// ErrNoPorts is returned when there are no ports for the protocol
var ErrNoPorts = errors.New("no ports to render")

// Material is the certificate authority and tls-auth key of the VPN servers in PEM
type Material struct {
	CA      string
	TLSAuth string
}

// Validate checks that both parts are present
func (m Material) Validate() error {
	if !strings.Contains(m.CA, "BEGIN CERTIFICATE") {
		return errors.New("the CA certificate is missing")
	}
	if !strings.Contains(m.TLSAuth, "BEGIN OpenVPN Static key") {
		return errors.New("the tls-auth key is missing")
	}
	return nil
}

// LoadMaterial reads the CA and tls-auth key from dir
// A dir without both files gives the embedded material, the files override it
func LoadMaterial(dir string) (Material, error) {
	if dir == "" {
		return DefaultMaterial(), nil
	}
	ca, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if errors.Is(err, fs.ErrNotExist) {
		log.Logger.Debugf("No CA in %s, using the embedded material", dir)
		return DefaultMaterial(), nil
	}
	if err != nil {
		return Material{}, errors.WrapPrefix(err, "failed reading the VPN CA", 0)
	}
	ta, err := os.ReadFile(filepath.Join(dir, "ta.key"))
	if err != nil {
		return Material{}, errors.WrapPrefix(err, "failed reading the tls-auth key", 0)
	}
	m := Material{CA: strings.TrimSpace(string(ca)), TLSAuth: strings.TrimSpace(string(ta))}
	return m, m.Validate()
}

var tmpl = template.Must(template.New("ovpn").Parse(ovpnTemplate))

type templateData struct {
	Server      string
	Protocol    string
	IPs         []string
	Ports       []string
	SplitTunnel []string
	CA          string
	TLSAuth     string
}

// Configurator writes OpenVPN configurations to the cache directory
type Configurator struct {
	path     string
	material Material
	// SplitTunnel are IPv4 addresses that are routed outside of the tunnel
	SplitTunnel []string
}

// New creates a configurator that writes to path
func New(path string, material Material) *Configurator {
	return &Configurator{path: path, material: material}
}

// Render writes the configuration for the physical server and returns its path
func (c *Configurator) Render(server string, proto protocol.Protocol, phys catalog.Physical, ports []int) (string, error) {
	if proto != protocol.UDP && proto != protocol.TCP {
		return "", &protocol.InvalidProtocolError{Protocol: proto.String()}
	}
	if phys.EntryIP == "" {
		return "", ErrNoIPs
	}
	if err := util.ValidateIPv4(phys.EntryIP); err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoPorts
	}
	if err := c.material.Validate(); err != nil {
		return "", err
	}
	data := templateData{
		Server:      server,
		Protocol:    proto.String(),
		IPs:         []string{phys.EntryIP},
		SplitTunnel: c.SplitTunnel,
		CA:          strings.TrimSpace(c.material.CA),
		TLSAuth:     strings.TrimSpace(c.material.TLSAuth),
	}
	for _, p := range ports {
		data.Ports = append(data.Ports, strconv.Itoa(p))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.WrapPrefix(err, "failed rendering the OpenVPN configuration", 0)
	}
	if err := util.EnsureDirectory(filepath.Dir(c.path)); err != nil {
		return "", err
	}
	if err := os.WriteFile(c.path, buf.Bytes(), 0o600); err != nil {
		return "", errors.WrapPrefix(err, "failed writing the OpenVPN configuration", 0)
	}
	log.Logger.Debugf("Wrote the OpenVPN configuration for %s to %s", server, c.path)
	return c.path, nil
}

// Remove deletes a rendered configuration, in CI mode it is kept
func (c *Configurator) Remove(path string) error {
	if util.IsCI() {
		log.Logger.Debugf("CI mode, keeping %s", path)
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.WrapPrefix(err, "failed removing the OpenVPN configuration", 0)
	}
	return nil
}

// DecorateUsername appends the suffix tokens to the OpenVPN username
// The platform token is always present, netshield and the physical label only when set
func DecorateUsername(user string, netshield config.NetShield, phys catalog.Physical) string {
	tokens := []string{user, PlatformSuffix}
	switch netshield {
	case config.NetShieldMalware:
		tokens = append(tokens, "f1")
	case config.NetShieldAdsMalware:
		tokens = append(tokens, "f2")
	}
	if phys.Label != "" {
		tokens = append(tokens, "b:"+phys.Label)
	}
	return strings.Join(tokens, "+")
}
