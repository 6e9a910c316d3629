package util

import (
	"path/filepath"
	"testing"
	"time"
)

func TestValidateServername(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{in: "PT#1", valid: true},
		{in: "CH-US#3", valid: true},
		{in: "SE-FREE#12", valid: true},
		{in: "HK5-TOR", valid: true},
		{in: "pt#1", valid: true},
		{in: "pt1", valid: false},
		{in: "#", valid: false},
		{in: "", valid: false},
		{in: "PT##1", valid: false},
		{in: "PT#", valid: false},
	}

	for _, c := range cases {
		err := ValidateServername(c.in)
		if (err == nil) != c.valid {
			t.Fatalf("servername %q, got err: %v, want valid: %v", c.in, err, c.valid)
		}
	}
}

func TestValidateIPv4(t *testing.T) {
	cases := map[string]bool{
		"10.0.0.1":        true,
		"1.1.1.1":         true,
		"256.1.1.1":       false,
		"::1":             false,
		"::ffff:10.0.0.1": false,
		"":                false,
		"abc":             false,
	}
	for in, valid := range cases {
		err := ValidateIPv4(in)
		if (err == nil) != valid {
			t.Fatalf("ip %q, got err: %v, want valid: %v", in, err, valid)
		}
	}
}

func TestValidateCountry(t *testing.T) {
	if err := ValidateCountry("pt"); err != nil {
		t.Fatalf("Got: %v, want: nil", err)
	}
	if err := ValidateCountry("PRT"); err == nil {
		t.Fatal("Got: nil, want: an error")
	}
}

func TestJitterBounds(t *testing.T) {
	base := 180 * time.Minute
	lo := time.Duration(float64(base) * (1 - JitterRatio))
	hi := time.Duration(float64(base) * (1 + JitterRatio))
	for i := 0; i < 1000; i++ {
		got := Jitter(base)
		if got < lo || got > hi {
			t.Fatalf("jitter out of bounds: %v not in [%v, %v]", got, lo, hi)
		}
	}
}

func TestRandomDuration(t *testing.T) {
	for i := 0; i < 1000; i++ {
		got := RandomDuration(2*time.Second, 10*time.Second)
		if got < 2*time.Second || got > 10*time.Second {
			t.Fatalf("random duration out of bounds: %v", got)
		}
	}
	if got := RandomDuration(3*time.Second, time.Second); got != 3*time.Second {
		t.Fatalf("Got: %v, want: 3s", got)
	}
}

func TestPathsFromRoot(t *testing.T) {
	p := PathsFromRoot("/tmp/x")
	if got, want := p.ServerList(), filepath.Join("/tmp/x", "cache", "protonvpn", "cached_serverlist.json"); got != want {
		t.Fatalf("Got: %s, want: %s", got, want)
	}
	if got, want := p.UnitFile(), filepath.Join("/tmp/x", "config", "systemd", "user", "protonvpn_reconnect.service"); got != want {
		t.Fatalf("Got: %s, want: %s", got, want)
	}
}

func TestNewPathsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_CACHE_HOME", "/cache")
	p := NewPaths()
	if p.Settings() != "/cfg/protonvpn/user_configurations.json" {
		t.Fatalf("Got: %s", p.Settings())
	}
	if p.OpenVPNConfig() != "/cache/protonvpn/ProtonVPN.ovpn" {
		t.Fatalf("Got: %s", p.OpenVPNConfig())
	}
	if p.LogDir != "/cache/protonvpn/logs" {
		t.Fatalf("Got: %s", p.LogDir)
	}
}
