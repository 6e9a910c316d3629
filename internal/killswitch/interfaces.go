package killswitch

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
)

// dummy describes one of the auxiliary dummy connections
type dummy struct {
	name   string
	iface  string
	metric int
	ipv4   bool
}

var (
	killswitchConn = dummy{name: "pvpn-killswitch", iface: "pvpnksintrf0", metric: 98, ipv4: true}
	routedConn     = dummy{name: "pvpn-routed-killswitch", iface: "pvpnroutintrf0", metric: 97, ipv4: true}
	ipv6Conn       = dummy{name: "pvpn-ipv6leak-protection", iface: "ipv6leakintrf0", metric: 95}
)

const (
	addressV4 = "100.85.0.1/24"
	gatewayV4 = "100.85.0.1"
	addressV6 = "fdeb:446c:912d:08da::/64"
	gatewayV6 = "fdeb:446c:912d:08da::1"
)

// addArgs returns the nmcli arguments that create the dummy connection
// routes replaces the default IPv4 route with the given subnets, routeKey is the property that carries them
func (d dummy) addArgs(routes []string, routeKey string) []string {
	metric := strconv.Itoa(d.metric)
	args := []string{"connection", "add", "type", "dummy", "ifname", d.iface, "con-name", d.name}
	if d.ipv4 {
		args = append(args, "ipv4.method", "manual")
		if len(routes) == 0 {
			args = append(args, "ipv4.addresses", addressV4, "ipv4.gateway", gatewayV4)
		} else if routeKey == "ipv4.addresses" {
			args = append(args, "ipv4.addresses", strings.Join(routes, ","))
		} else {
			args = append(args, "ipv4.addresses", addressV4, "ipv4.routes", strings.Join(routes, ","))
		}
		args = append(args, "ipv4.route-metric", metric)
	} else {
		args = append(args, "ipv4.method", "disabled")
	}
	args = append(args,
		"ipv6.method", "manual",
		"ipv6.addresses", addressV6,
		"ipv6.gateway", gatewayV6,
		"ipv6.route-metric", metric,
	)
	return args
}

// ExcludeIP returns the subnets that together cover 0.0.0.0/0 except ip
func ExcludeIP(ip string) ([]string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return nil, errors.Errorf("invalid server IPv4 address: '%s'", ip)
	}
	b := addr.As4()
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	subnets := make([]string, 0, 32)
	for bits := 1; bits <= 32; bits++ {
		// the sibling of the prefix of ip with length bits
		flip := uint32(1) << (32 - bits)
		mask := ^uint32(0) << (32 - bits)
		sib := (n ^ flip) & mask
		a := netip.AddrFrom4([4]byte{byte(sib >> 24), byte(sib >> 16), byte(sib >> 8), byte(sib)})
		subnets = append(subnets, netip.PrefixFrom(a, bits).String())
	}
	return subnets, nil
}
