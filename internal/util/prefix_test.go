package util

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func prefixStrings(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func TestExcludePrefixes(t *testing.T) {
	cases := []struct {
		excluded []string
		want     []string
	}{
		{want: []string{"0.0.0.0/0"}},
		{
			// the second prefix is inside the first
			excluded: []string{"10.0.0.0/8", "10.1.0.0/16"},
			want: []string{
				"0.0.0.0/5", "8.0.0.0/7", "11.0.0.0/8", "12.0.0.0/6",
				"16.0.0.0/4", "32.0.0.0/3", "64.0.0.0/2", "128.0.0.0/1",
			},
		},
		{excluded: []string{"0.0.0.0/0"}, want: []string{}},
	}
	for _, c := range cases {
		var excluded []netip.Prefix
		for _, e := range c.excluded {
			excluded = append(excluded, netip.MustParsePrefix(e))
		}
		if diff := cmp.Diff(c.want, prefixStrings(ExcludePrefixes(excluded))); diff != "" {
			t.Fatalf("excluding %v differs (-want +got):\n%s", c.excluded, diff)
		}
	}
}

func TestExcludePrefixesCoversEverythingElse(t *testing.T) {
	got := ExcludePrefixes([]netip.Prefix{netip.MustParsePrefix("192.168.1.10/32")})
	if len(got) != 32 {
		t.Fatalf("got %d prefixes, want: 32", len(got))
	}
	for _, addr := range []string{"0.0.0.0", "8.8.8.8", "192.168.1.9", "192.168.1.10", "192.168.1.11", "255.255.255.255"} {
		a := netip.MustParseAddr(addr)
		n := 0
		for _, p := range got {
			if p.Contains(a) {
				n++
			}
		}
		want := 1
		if addr == "192.168.1.10" {
			want = 0
		}
		if n != want {
			t.Fatalf("%s is covered %d times, want: %d", addr, n, want)
		}
	}
}
