package util

import "net/netip"

// ExcludePrefixes returns the IPv4 prefixes that together cover 0.0.0.0/0 except the excluded ones
// The prefixes are ordered by address and none of them overlaps an excluded prefix
func ExcludePrefixes(excluded []netip.Prefix) []netip.Prefix {
	masked := make([]netip.Prefix, 0, len(excluded))
	for _, e := range excluded {
		if e.Addr().Is4() {
			masked = append(masked, e.Masked())
		}
	}
	return cover(netip.PrefixFrom(netip.IPv4Unspecified(), 0), masked)
}

// cover halves p until the halves are either free of excluded prefixes or inside one
func cover(p netip.Prefix, excluded []netip.Prefix) []netip.Prefix {
	overlaps := false
	for _, e := range excluded {
		if e.Bits() <= p.Bits() && e.Contains(p.Addr()) {
			return nil
		}
		if p.Overlaps(e) {
			overlaps = true
		}
	}
	if !overlaps {
		return []netip.Prefix{p}
	}
	bits := p.Bits() + 1
	b := p.Addr().As4()
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	n |= uint32(1) << (32 - bits)
	hi := netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	lo := cover(netip.PrefixFrom(p.Addr(), bits), excluded)
	return append(lo, cover(netip.PrefixFrom(hi, bits), excluded)...)
}
