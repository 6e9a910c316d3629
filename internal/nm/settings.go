package nm

import (
	"encoding/binary"
	"net"
	"net/netip"
	"strings"

	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"

	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

// Settings is a connection as NetworkManager exchanges it on the bus
type Settings map[string]map[string]dbus.Variant

const permissionPrefix = "user:"

// toSettings converts a connection into its bus representation
func toSettings(c *Connection) (Settings, error) {
	dns4 := make([]uint32, 0, len(c.IPv4.DNS))
	for _, s := range c.IPv4.DNS {
		ip := net.ParseIP(s).To4()
		if ip == nil {
			return nil, errors.Errorf("invalid IPv4 DNS server '%s'", s)
		}
		// NetworkManager expects the address bytes in network order inside the integer
		dns4 = append(dns4, binary.NativeEndian.Uint32(ip))
	}
	dns6 := make([][]byte, 0, len(c.IPv6.DNS))
	for _, s := range c.IPv6.DNS {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() != nil {
			return nil, errors.Errorf("invalid IPv6 DNS server '%s'", s)
		}
		dns6 = append(dns6, []byte(ip.To16()))
	}

	routes4, bypass, err := routeData(c.IPv4.Routes)
	if err != nil {
		return nil, err
	}

	var perms []string
	if c.Owner != "" {
		perms = []string{permissionPrefix + c.Owner + ":"}
	}
	connection := map[string]dbus.Variant{
		"id":          dbus.MakeVariant(c.ID),
		"uuid":        dbus.MakeVariant(c.UUID),
		"type":        dbus.MakeVariant("vpn"),
		"autoconnect": dbus.MakeVariant(false),
	}
	if perms != nil {
		connection["permissions"] = dbus.MakeVariant(perms)
	}
	data := make(map[string]string, len(c.Data))
	for k, v := range c.Data {
		data[k] = v
	}
	secrets := make(map[string]string, len(c.Secrets))
	for k, v := range c.Secrets {
		secrets[k] = v
	}
	ipv4 := map[string]dbus.Variant{
		"method":          dbus.MakeVariant("auto"),
		"dns":             dbus.MakeVariant(dns4),
		"dns-priority":    dbus.MakeVariant(c.IPv4.DNSPriority),
		"ignore-auto-dns": dbus.MakeVariant(c.IPv4.IgnoreAutoDNS),
		"route-data":      dbus.MakeVariant(routes4),
	}
	if bypass {
		ipv4["never-default"] = dbus.MakeVariant(true)
	}
	return Settings{
		"connection": connection,
		"vpn": {
			"service-type": dbus.MakeVariant(ServiceType),
			"data":         dbus.MakeVariant(data),
			"secrets":      dbus.MakeVariant(secrets),
		},
		"ipv4": ipv4,
		"ipv6": {
			"method":          dbus.MakeVariant("auto"),
			"dns":             dbus.MakeVariant(dns6),
			"dns-priority":    dbus.MakeVariant(c.IPv6.DNSPriority),
			"ignore-auto-dns": dbus.MakeVariant(c.IPv6.IgnoreAutoDNS),
		},
	}, nil
}

// routeData converts the IPv4 routes into NetworkManager route-data
// With bypass routes the tunnel no longer takes the default route, it gets every prefix except the bypassed ones
func routeData(routes []Route) (data []map[string]dbus.Variant, bypass bool, err error) {
	var tunnel, excluded []netip.Prefix
	for _, r := range routes {
		p, perr := netip.ParsePrefix(r.Dest)
		if perr != nil || !p.Addr().Is4() {
			return nil, false, errors.Errorf("invalid IPv4 route '%s'", r.Dest)
		}
		if r.Bypass {
			excluded = append(excluded, p.Masked())
			continue
		}
		tunnel = append(tunnel, p.Masked())
	}
	if len(excluded) > 0 {
		tunnel = append(tunnel, util.ExcludePrefixes(excluded)...)
	}
	data = make([]map[string]dbus.Variant, 0, len(tunnel))
	for _, p := range tunnel {
		data = append(data, map[string]dbus.Variant{
			"dest":   dbus.MakeVariant(p.Addr().String()),
			"prefix": dbus.MakeVariant(uint32(p.Bits())),
		})
	}
	return data, len(excluded) > 0, nil
}

func variantString(s map[string]dbus.Variant, key string) string {
	v, ok := s[key]
	if !ok {
		return ""
	}
	str, _ := v.Value().(string)
	return str
}

func variantMap(s map[string]dbus.Variant, key string) map[string]string {
	out := map[string]string{}
	v, ok := s[key]
	if !ok {
		return out
	}
	if m, ok := v.Value().(map[string]string); ok {
		for k, val := range m {
			out[k] = val
		}
	}
	return out
}

func ipConfigFrom(s map[string]dbus.Variant, v4 bool) IPConfig {
	var cfg IPConfig
	if v, ok := s["dns-priority"]; ok {
		cfg.DNSPriority, _ = v.Value().(int32)
	}
	if v, ok := s["ignore-auto-dns"]; ok {
		cfg.IgnoreAutoDNS, _ = v.Value().(bool)
	}
	v, ok := s["dns"]
	if !ok {
		return cfg
	}
	if v4 {
		raw, _ := v.Value().([]uint32)
		for _, n := range raw {
			ip := make(net.IP, 4)
			binary.NativeEndian.PutUint32(ip, n)
			cfg.DNS = append(cfg.DNS, ip.String())
		}
		return cfg
	}
	raw, _ := v.Value().([][]byte)
	for _, b := range raw {
		cfg.DNS = append(cfg.DNS, net.IP(b).String())
	}
	return cfg
}

// fromSettings converts the bus representation into a connection
// ok is false for connections that are not OpenVPN
func fromSettings(path dbus.ObjectPath, s Settings) (c *Connection, ok bool) {
	vpn, found := s["vpn"]
	if !found || variantString(vpn, "service-type") != ServiceType {
		return nil, false
	}
	conn := s["connection"]
	c = &Connection{
		Path:    path,
		ID:      variantString(conn, "id"),
		UUID:    variantString(conn, "uuid"),
		Data:    variantMap(vpn, "data"),
		Secrets: variantMap(vpn, "secrets"),
		IPv4:    ipConfigFrom(s["ipv4"], true),
		IPv6:    ipConfigFrom(s["ipv6"], false),
	}
	if v, found := conn["permissions"]; found {
		perms, _ := v.Value().([]string)
		for _, p := range perms {
			if strings.HasPrefix(p, permissionPrefix) {
				c.Owner = strings.TrimSuffix(strings.TrimPrefix(p, permissionPrefix), ":")
				break
			}
		}
	}
	return c, true
}
