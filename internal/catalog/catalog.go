// Package catalog implements the logical server list, filtering and server selection
package catalog

import (
	"strings"
	"time"
)

// Feature is the feature value of a logical server as returned by the API
type Feature int

const (
	// FeatureNormal is a regular server
	FeatureNormal Feature = 0
	// FeatureSecureCore routes through a secure core entry server
	FeatureSecureCore Feature = 1
	// FeatureTor routes to the Tor network
	FeatureTor Feature = 2
	// FeatureP2P allows peer to peer traffic
	FeatureP2P Feature = 4
	// FeatureStreaming is optimised for streaming services
	FeatureStreaming Feature = 8
	// FeatureIPv6 supports IPv6
	FeatureIPv6 Feature = 16
)

var featureNames = map[Feature]string{
	FeatureNormal:     "Normal",
	FeatureSecureCore: "Secure-Core",
	FeatureTor:        "Tor",
	FeatureP2P:        "P2P",
	FeatureStreaming:  "Streaming",
	FeatureIPv6:       "IPv6",
}

// Names returns the display names of the feature bits that are set
func (f Feature) Names() []string {
	if f == FeatureNormal {
		return []string{featureNames[FeatureNormal]}
	}
	var names []string
	for _, bit := range []Feature{FeatureSecureCore, FeatureTor, FeatureP2P, FeatureStreaming, FeatureIPv6} {
		if f&bit != 0 {
			names = append(names, featureNames[bit])
		}
	}
	return names
}

// Location is the coordinate of a logical server
type Location struct {
	Lat  float64 `json:"Lat"`
	Long float64 `json:"Long"`
}

// Physical is a concrete machine behind a logical server
type Physical struct {
	EntryIP    string `json:"EntryIP"`
	ExitIP     string `json:"ExitIP"`
	Domain     string `json:"Domain"`
	ID         string `json:"ID"`
	Generation int    `json:"Generation"`
	Status     int    `json:"Status"`
	Label      string `json:"Label,omitempty"`
}

// Enabled returns whether the physical server can be connected to
func (p Physical) Enabled() bool {
	return p.Status == 1
}

// Logical is an advertised server with one or more physical servers
type Logical struct {
	Name         string     `json:"Name"`
	EntryCountry string     `json:"EntryCountry"`
	ExitCountry  string     `json:"ExitCountry"`
	Domain       string     `json:"Domain"`
	Tier         int        `json:"Tier"`
	Features     Feature    `json:"Features"`
	Region       *string    `json:"Region"`
	City         string     `json:"City"`
	ID           string     `json:"ID"`
	Location     Location   `json:"Location"`
	Status       int        `json:"Status"`
	Servers      []Physical `json:"Servers"`
	Load         int        `json:"Load"`
	Score        float64    `json:"Score"`
}

// Enabled returns whether the logical server is active
func (l Logical) Enabled() bool {
	return l.Status == 1
}

// clone returns a deep copy so filtered lists never alias the catalog
func (l Logical) clone() Logical {
	c := l
	c.Servers = append([]Physical(nil), l.Servers...)
	if l.Region != nil {
		r := *l.Region
		c.Region = &r
	}
	return c
}

// Load is the load and score update of a single logical server
type Load struct {
	ID    string  `json:"ID"`
	Load  int     `json:"Load"`
	Score float64 `json:"Score"`
}

// Catalog is a snapshot of the logical servers
type Catalog struct {
	Logicals []Logical `json:"LogicalServers"`
	// LogicalsUpdated is the unix time of the last full refresh
	LogicalsUpdated int64 `json:"logicals_updated"`
	// LoadsUpdated is the unix time of the last load refresh
	LoadsUpdated int64 `json:"loads_updated"`
}

// New creates a catalog from a full logicals response fetched at t
func New(logicals []Logical, t time.Time) *Catalog {
	return &Catalog{
		Logicals:        logicals,
		LogicalsUpdated: t.Unix(),
		LoadsUpdated:    t.Unix(),
	}
}

// Empty returns whether the catalog has no servers
func (c *Catalog) Empty() bool {
	return c == nil || len(c.Logicals) == 0
}

// Find returns the logical server with the given name, case-insensitive
func (c *Catalog) Find(name string) (Logical, bool) {
	for _, l := range c.Logicals {
		if strings.EqualFold(l.Name, name) {
			return l.clone(), true
		}
	}
	return Logical{}, false
}

// Names returns the names of all logical servers
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Logicals))
	for _, l := range c.Logicals {
		names = append(names, l.Name)
	}
	return names
}

// UpdateLoads mutates the load and score of the servers in place
// Servers that are absent from loads keep their previous values
func (c *Catalog) UpdateLoads(loads []Load, t time.Time) {
	byID := make(map[string]Load, len(loads))
	for _, l := range loads {
		byID[l.ID] = l
	}
	for i := range c.Logicals {
		if l, ok := byID[c.Logicals[i].ID]; ok {
			c.Logicals[i].Load = l.Load
			c.Logicals[i].Score = l.Score
		}
	}
	c.LoadsUpdated = t.Unix()
}
