// Package endpoints defines the Proton VPN API paths and the JSON format of their responses
package endpoints

import (
	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/catalog"
)

const (
	// VPN returns the VPN account and its OpenVPN credentials
	VPN = "/vpn"
	// Logicals returns the full server list
	Logicals = "/vpn/logicals"
	// Loads returns the load and score of every server
	Loads = "/vpn/loads"
	// ClientConfig returns the default ports and feature flags
	ClientConfig = "/vpn/clientconfig"
	// Ping is an unauthenticated liveness endpoint
	Ping = "/tests/ping"
)

// codeOK is the result code of a successful call
const codeOK = 1000

// VPNAccount is the VPN part of the /vpn response
type VPNAccount struct {
	Status   int    `json:"Status"`
	PlanName string `json:"PlanName"`
	MaxTier  int    `json:"MaxTier"`
	Name     string `json:"Name"`
	Password string `json:"Password"`
}

// VPNInfo is the /vpn response
type VPNInfo struct {
	Code int        `json:"Code"`
	VPN  VPNAccount `json:"VPN"`
}

// Validate checks that the response carries usable credentials
func (v VPNInfo) Validate() error {
	if v.Code != codeOK {
		return errors.Errorf("unexpected result code: %d", v.Code)
	}
	if v.VPN.Name == "" || v.VPN.Password == "" {
		return errors.New("VPN credentials are missing from the response")
	}
	if v.VPN.MaxTier < 0 {
		return errors.Errorf("invalid tier: %d", v.VPN.MaxTier)
	}
	return nil
}

// LogicalsResponse is the /vpn/logicals response
type LogicalsResponse struct {
	Code           int               `json:"Code"`
	LogicalServers []catalog.Logical `json:"LogicalServers"`
}

// Validate checks that the server list is usable
func (l LogicalsResponse) Validate() error {
	if l.Code != codeOK {
		return errors.Errorf("unexpected result code: %d", l.Code)
	}
	if len(l.LogicalServers) == 0 {
		return errors.New("the server list is empty")
	}
	return nil
}

// LoadsResponse is the /vpn/loads response
type LoadsResponse struct {
	Code           int            `json:"Code"`
	LogicalServers []catalog.Load `json:"LogicalServers"`
}

// Ports are the OpenVPN ports per transport
type Ports struct {
	UDP []int `json:"UDP"`
	TCP []int `json:"TCP"`
}

// ClientConfigResponse is the /vpn/clientconfig response
type ClientConfigResponse struct {
	Code         int `json:"Code"`
	DefaultPorts struct {
		OpenVPN Ports `json:"OpenVPN"`
	} `json:"DefaultPorts"`
	HolesIPs              []string        `json:"HolesIPs"`
	ServerRefreshInterval int             `json:"ServerRefreshInterval"`
	FeatureFlags          map[string]bool `json:"FeatureFlags"`
}

// Validate checks that ports are present for both transports
func (c ClientConfigResponse) Validate() error {
	if c.Code != codeOK {
		return errors.Errorf("unexpected result code: %d", c.Code)
	}
	if len(c.DefaultPorts.OpenVPN.UDP) == 0 || len(c.DefaultPorts.OpenVPN.TCP) == 0 {
		return errors.New("the client config has no OpenVPN ports")
	}
	return nil
}
