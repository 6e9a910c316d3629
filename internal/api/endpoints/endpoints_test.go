package endpoints

import (
	"strings"
	"testing"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
)

func TestValidate(t *testing.T) {
	good := ClientConfigResponse{Code: codeOK}
	good.DefaultPorts.OpenVPN = Ports{UDP: []int{1194}, TCP: []int{443}}
	noTCP := ClientConfigResponse{Code: codeOK}
	noTCP.DefaultPorts.OpenVPN = Ports{UDP: []int{1194}}

	cases := []struct {
		name string
		in   interface{ Validate() error }
		want string
	}{
		{name: "vpn ok", in: VPNInfo{Code: codeOK, VPN: VPNAccount{Name: "user", Password: "pass", MaxTier: 2}}},
		{name: "vpn code", in: VPNInfo{Code: 2001}, want: "unexpected result code: 2001"},
		{name: "vpn credentials", in: VPNInfo{Code: codeOK}, want: "VPN credentials are missing"},
		{name: "vpn tier", in: VPNInfo{Code: codeOK, VPN: VPNAccount{Name: "user", Password: "pass", MaxTier: -1}}, want: "invalid tier: -1"},
		{name: "logicals ok", in: LogicalsResponse{Code: codeOK, LogicalServers: []catalog.Logical{{}}}},
		{name: "logicals empty", in: LogicalsResponse{Code: codeOK}, want: "the server list is empty"},
		{name: "logicals code", in: LogicalsResponse{Code: 500}, want: "unexpected result code: 500"},
		{name: "client config ok", in: good},
		{name: "client config ports", in: noTCP, want: "no OpenVPN ports"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.in.Validate()
			if c.want == "" {
				if err != nil {
					t.Fatalf("got error: %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("got error: %v, want: %q", err, c.want)
			}
			var wrapped *errors.Error
			if !errors.As(err, &wrapped) {
				t.Fatalf("error %T carries no stack", err)
			}
		})
	}
}
