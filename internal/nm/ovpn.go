package nm

import (
	"bufio"
	"bytes"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-errors/errors"
	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

// ServiceType is the NetworkManager OpenVPN plugin
const ServiceType = "org.freedesktop.NetworkManager.openvpn"

// vpn.data keys of the OpenVPN plugin
const (
	keyConnectionType = "connection-type"
	keyRemote         = "remote"
	keyProtoTCP       = "proto-tcp"
	keyDev            = "dev"
	keyDevType        = "dev-type"
	keyCipher         = "cipher"
	keyAuth           = "auth"
	keyRemoteRandom   = "remote-random"
	keyTunnelMTU      = "tunnel-mtu"
	keyMSSFix         = "mssfix"
	keyRenegSeconds   = "reneg-seconds"
	keyRemoteCertTLS  = "remote-cert-tls"
	keyCA             = "ca"
	keyTA             = "ta"
	keyTADir          = "ta-dir"
	keyUsername       = "username"
	keyPasswordFlags  = "password-flags"
	keyVerifyX509Name = "verify-x509-name"
	keyPassword       = "password"
)

// ErrNoRemote is returned when a configuration has no remote
var ErrNoRemote = errors.New("the configuration has no remote")

// ImportError is returned when an OpenVPN configuration could not be converted
type ImportError struct {
	Path string
	Err  error
}

func (e *ImportError) Error() string {
	return "failed importing '" + e.Path + "': " + e.Err.Error()
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// directives that the plugin implies or that have no plugin equivalent
var ignored = map[string]bool{
	"client":               true,
	"nobind":               true,
	"persist-key":          true,
	"persist-tun":          true,
	"pull":                 true,
	"fast-io":              true,
	"verb":                 true,
	"resolv-retry":         true,
	"setenv":               true,
	"tun-mtu-extra":        true,
	"auth-user-pass":       true,
	"tls-client":           true,
	"explicit-exit-notify": true,
}

type importer struct {
	conn   *Connection
	proto  string
	ports  []string
	remote []string
	inline map[string]string
}

// parseOpenVPN converts the text of an OpenVPN configuration
// Inline certificates are returned separately, keyed by their tag
func parseOpenVPN(b []byte) (*importer, error) {
	imp := &importer{
		conn: &Connection{
			Data:    map[string]string{keyConnectionType: "password", keyPasswordFlags: "0"},
			Secrets: map[string]string{},
		},
		proto:  "udp",
		inline: map[string]string{},
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	var tag string
	var block []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if tag != "" {
			if line == "</"+tag+">" {
				imp.inline[tag] = strings.Join(block, "\n")
				tag, block = "", nil
				continue
			}
			block = append(block, line)
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">") && !strings.HasPrefix(line, "</") {
			tag = strings.Trim(line, "<>")
			continue
		}
		fields, err := shlex.Split(line)
		if err != nil {
			return nil, errors.WrapPrefix(err, "failed splitting line '"+line+"'", 0)
		}
		if err = imp.directive(fields[0], fields[1:]); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapPrefix(err, "failed reading configuration", 0)
	}
	if tag != "" {
		return nil, errors.Errorf("unterminated <%s> block", tag)
	}
	if len(imp.remote) == 0 {
		return nil, ErrNoRemote
	}
	imp.conn.Data[keyRemote] = strings.Join(imp.remote, ", ")
	if imp.proto == "tcp" {
		imp.conn.Data[keyProtoTCP] = "yes"
	}
	if imp.conn.Data[keyDevType] == "" {
		imp.conn.Data[keyDevType] = "tun"
	}
	return imp, nil
}

func (imp *importer) directive(name string, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	d := imp.conn.Data
	switch name {
	case "proto":
		p := strings.TrimSuffix(arg(0), "-client")
		if p != "udp" && p != "tcp" {
			return errors.Errorf("unsupported proto '%s'", arg(0))
		}
		imp.proto = p
	case "remote":
		if arg(0) == "" {
			return errors.New("remote without host")
		}
		r := arg(0)
		if arg(1) != "" {
			r += ":" + arg(1)
		}
		imp.remote = append(imp.remote, r)
	case "dev":
		// dev tun0 or dev tap implies the type unless dev-type is given
		if d[keyDevType] == "" {
			switch {
			case strings.HasPrefix(arg(0), "tun"):
				d[keyDevType] = "tun"
			case strings.HasPrefix(arg(0), "tap"):
				d[keyDevType] = "tap"
			default:
				return &UnsupportedDeviceError{Type: arg(0)}
			}
		}
	case "dev-type":
		if arg(0) != "tun" && arg(0) != "tap" {
			return &UnsupportedDeviceError{Type: arg(0)}
		}
		d[keyDevType] = arg(0)
	case "cipher":
		d[keyCipher] = arg(0)
	case "auth":
		d[keyAuth] = arg(0)
	case "remote-random":
		d[keyRemoteRandom] = "yes"
	case "tun-mtu":
		d[keyTunnelMTU] = arg(0)
	case "mssfix":
		d[keyMSSFix] = arg(0)
	case "reneg-sec":
		d[keyRenegSeconds] = arg(0)
	case "remote-cert-tls":
		d[keyRemoteCertTLS] = arg(0)
	case "key-direction":
		d[keyTADir] = arg(0)
	case "route":
		r, err := parseRoute(arg(0), arg(1), arg(2))
		if err != nil {
			return err
		}
		if r != nil {
			imp.conn.IPv4.Routes = append(imp.conn.IPv4.Routes, *r)
		}
	case "verify-x509-name":
		kind := arg(1)
		if kind == "" {
			kind = "subject"
		}
		d[keyVerifyX509Name] = kind + ":" + arg(0)
	default:
		if !ignored[name] {
			log.Logger.Debugf("Ignoring OpenVPN directive '%s'", name)
		}
	}
	return nil
}

// parseRoute converts the arguments of a route directive
// A nil route without error means a gateway the plugin cannot express
func parseRoute(network, mask, gateway string) (*Route, error) {
	addr, err := netip.ParseAddr(network)
	if err != nil || !addr.Is4() {
		return nil, errors.Errorf("invalid route network '%s'", network)
	}
	bits := 32
	if mask != "" && mask != "default" {
		m := net.ParseIP(mask).To4()
		if m == nil {
			return nil, errors.Errorf("invalid route mask '%s'", mask)
		}
		ones, size := net.IPMask(m).Size()
		if size == 0 {
			return nil, errors.Errorf("non canonical route mask '%s'", mask)
		}
		bits = ones
	}
	dest := netip.PrefixFrom(addr, bits).Masked().String()
	switch gateway {
	case "", "default", "vpn_gateway":
		return &Route{Dest: dest}, nil
	case "net_gateway":
		return &Route{Dest: dest, Bypass: true}, nil
	}
	log.Logger.Debugf("Ignoring route to %s through gateway '%s'", dest, gateway)
	return nil, nil
}

// writeInline stores the inline certificates in dir and points the connection to them
func (imp *importer) writeInline(dir string) error {
	files := map[string]string{"ca": keyCA, "tls-auth": keyTA}
	for tag, key := range files {
		content, ok := imp.inline[tag]
		if !ok {
			continue
		}
		if err := util.EnsureDirectory(dir); err != nil {
			return err
		}
		p := filepath.Join(dir, imp.conn.UUID+"-"+tag+".pem")
		if err := os.WriteFile(p, []byte(content+"\n"), 0o600); err != nil {
			return errors.WrapPrefix(err, "failed writing "+tag, 0)
		}
		imp.conn.Data[key] = p
	}
	return nil
}

// ImportOpenVPN converts the OpenVPN configuration at path into a connection
// Inline certificates are written to certDir as the plugin only accepts files
func ImportOpenVPN(path string, certDir string) (*Connection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ImportError{Path: path, Err: err}
	}
	imp, err := parseOpenVPN(b)
	if err != nil {
		return nil, &ImportError{Path: path, Err: err}
	}
	imp.conn.UUID = uuid.NewString()
	imp.conn.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err = imp.writeInline(certDir); err != nil {
		return nil, &ImportError{Path: path, Err: err}
	}
	return imp.conn, nil
}

// Clone returns a deep copy of the connection
func (c *Connection) Clone() *Connection {
	cp := *c
	cp.Data = make(map[string]string, len(c.Data))
	for k, v := range c.Data {
		cp.Data[k] = v
	}
	cp.Secrets = make(map[string]string, len(c.Secrets))
	for k, v := range c.Secrets {
		cp.Secrets[k] = v
	}
	cp.IPv4.DNS = append([]string(nil), c.IPv4.DNS...)
	cp.IPv6.DNS = append([]string(nil), c.IPv6.DNS...)
	cp.IPv4.Routes = append([]Route(nil), c.IPv4.Routes...)
	cp.IPv6.Routes = append([]Route(nil), c.IPv6.Routes...)
	return &cp
}

// SetCredentials attaches the OpenVPN username and password
func (c *Connection) SetCredentials(username, password string) {
	c.Data[keyUsername] = username
	c.Secrets[keyPassword] = password
}

// SetVerifyName pins the subject name of the server certificate
func (c *Connection) SetVerifyName(domain string) {
	c.Data[keyVerifyX509Name] = "name:" + domain
}

// VerifyName returns the verify-x509-name of the connection
func (c *Connection) VerifyName() string {
	return c.Data[keyVerifyX509Name]
}

// Remotes returns the remotes of the connection as host:port
func (c *Connection) Remotes() []string {
	if c.Data[keyRemote] == "" {
		return nil
	}
	return strings.Split(c.Data[keyRemote], ", ")
}

// CertFiles returns the certificate files the connection refers to
func (c *Connection) CertFiles() []string {
	var files []string
	for _, k := range []string{keyCA, keyTA} {
		if p := c.Data[k]; p != "" {
			files = append(files, p)
		}
	}
	return files
}
