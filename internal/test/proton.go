package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

// Logical describes a server in a fake logicals response
type Logical struct {
	Name     string
	Country  string
	Tier     int
	Features int
	Score    float64
	Load     int
	Status   int
	EntryIP  string
	ExitIP   string
	Domain   string
	Label    string
}

// ManyLogicals returns n enabled free servers in NL, the score of server i is i+1
func ManyLogicals(n int) []Logical {
	ls := make([]Logical, 0, n)
	for i := 0; i < n; i++ {
		ip := fmt.Sprintf("10.0.%d.%d", i/250, i%250+1)
		ls = append(ls, Logical{
			Name:    fmt.Sprintf("NL#%d", i+1),
			Country: "NL",
			Score:   float64(i + 1),
			Load:    20,
			Status:  1,
			EntryIP: ip,
			ExitIP:  ip,
			Domain:  fmt.Sprintf("node-nl-%02d.protonvpn.net", i+1),
		})
	}
	return ls
}

// LogicalsJSON renders a /vpn/logicals response
func LogicalsJSON(ls []Logical) string {
	servers := make([]map[string]interface{}, 0, len(ls))
	for _, l := range ls {
		status := l.Status
		servers = append(servers, map[string]interface{}{
			"Name":         l.Name,
			"EntryCountry": l.Country,
			"ExitCountry":  l.Country,
			"Domain":       l.Domain,
			"Tier":         l.Tier,
			"Features":     l.Features,
			"Region":       nil,
			"City":         "Amsterdam",
			"ID":           "id-" + l.Name,
			"Location":     map[string]float64{"Lat": 52.37, "Long": 4.89},
			"Status":       status,
			"Load":         l.Load,
			"Score":        l.Score,
			"Servers": []map[string]interface{}{{
				"EntryIP": l.EntryIP,
				"ExitIP":  l.ExitIP,
				"Domain":  l.Domain,
				"ID":      "p-" + l.Name,
				"Status":  status,
				"Label":   l.Label,
			}},
		})
	}
	b, err := json.Marshal(map[string]interface{}{"Code": 1000, "LogicalServers": servers})
	if err != nil {
		panic(err)
	}
	return string(b)
}

// ProtonAPI is a fake Proton API with replaceable handlers per path
type ProtonAPI struct {
	*Server
	mu       sync.Mutex
	handlers map[string]http.Handler
	hits     map[string]int
}

// NewProtonAPI starts a fake API that serves the logicals and a plus account
func NewProtonAPI(t *testing.T, logicals []Logical) *ProtonAPI {
	p := &ProtonAPI{
		handlers: make(map[string]http.Handler),
		hits:     make(map[string]int),
	}
	p.Server = NewServer(p)
	t.Cleanup(p.Close)

	p.Handle("/vpn", NewSequence(Response{Body: `{"Code": 1000, "VPN": {"Status": 1, "PlanName": "plus", "MaxTier": 2, "Name": "vpnuser", "Password": "vpnpass"}}`}))
	p.Handle("/vpn/logicals", NewSequence(Response{Body: LogicalsJSON(logicals)}))
	p.Handle("/vpn/loads", NewSequence(Response{Body: `{"Code": 1000, "LogicalServers": []}`}))
	p.Handle("/vpn/clientconfig", NewSequence(Response{Body: `{"Code": 1000, "DefaultPorts": {"OpenVPN": {"UDP": [1194, 443], "TCP": [443]}}}`}))
	p.Handle("/tests/ping", NewSequence(Response{Body: `{"Code": 1000}`}))
	p.Handle("/auth/refresh", NewSequence(Response{Body: `{"Code": 1000, "AccessToken": "access2", "RefreshToken": "refresh2"}`}))
	p.Handle("/auth", NewSequence(Response{Body: `{"Code": 1000}`}))
	return p
}

// Handle replaces the handler of path
func (p *ProtonAPI) Handle(path string, h http.Handler) {
	p.mu.Lock()
	p.handlers[path] = h
	p.mu.Unlock()
}

// Hits returns how often path was requested
func (p *ProtonAPI) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// ServeHTTP dispatches on the exact path
func (p *ProtonAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	h, ok := p.handlers[r.URL.Path]
	p.hits[r.URL.Path]++
	p.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"Code": 404, "Error": "not found"}`))
		return
	}
	h.ServeHTTP(w, r)
}

// SessionBlob returns a stored session for this API as the keyring holds it
func (p *ProtonAPI) SessionBlob(appVersion, userAgent string) []byte {
	b, err := json.Marshal(map[string]interface{}{
		"AccessToken":  "access",
		"RefreshToken": "refresh",
		"UID":          "uid",
		"Scopes":       []string{"vpn"},
		"api_url":      p.URL,
		"appversion":   appVersion,
		"User-Agent":   userAgent,
		"tls_pinning":  false,
	})
	if err != nil {
		panic(err)
	}
	return b
}

// FakeCA is a certificate shaped placeholder for rendering configurations
const FakeCA = `-----BEGIN CERTIFICATE-----
MIIFozCCA4ugAwIBAgIBATANBgkqhkiG9w0BAQ0FADBAMQswCQYDVQQGEwJDSDEV
dGVzdA==
-----END CERTIFICATE-----`

// FakeTLSAuth is a static key shaped placeholder for rendering configurations
const FakeTLSAuth = `-----BEGIN OpenVPN Static key V1-----
6acef03f62675b4b1bbd03e53b187727
423cea742242106cb2916a8a4c829756
-----END OpenVPN Static key V1-----`
