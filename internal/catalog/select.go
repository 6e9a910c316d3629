package catalog

import (
	"math/rand"
	"sort"
	"time"

	"github.com/protonvpn/protonvpn-nm-core/internal/levenshtein"
)

const (
	// fastestPoolThreshold is the number of eligible servers from which the fastest pick is randomised
	fastestPoolThreshold = 50
	// fastestPoolSize is the number of best scored servers to pick from
	fastestPoolSize = 4
	// suggestions is the number of closest servernames returned for an unknown server
	suggestions = 3
)

// Rand is the source of randomness of a Selector
type Rand interface {
	Intn(n int) int
}

// Selector picks servers from a catalog
type Selector struct {
	Catalog *Catalog
	Rand    Rand
}

// NewSelector creates a selector with a time seeded source
func NewSelector(c *Catalog) *Selector {
	return &Selector{Catalog: c, Rand: rand.New(rand.NewSource(time.Now().UnixNano()))} //nolint:gosec
}

// Fastest sorts the servers by ascending score and picks one of the best
// With at least 50 servers one of the best 4 is picked uniformly, otherwise the best
func (s *Selector) Fastest(servers []Logical) (Logical, error) {
	if len(servers) == 0 {
		return Logical{}, &EmptyServerListError{Reason: "no server matches the filters"}
	}
	sorted := append([]Logical(nil), servers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score < sorted[j].Score
	})
	pool := 1
	if len(sorted) >= fastestPoolThreshold {
		pool = fastestPoolSize
	}
	return sorted[s.Rand.Intn(pool)], nil
}

// Random picks a server uniformly
func (s *Selector) Random(servers []Logical) (Logical, error) {
	if len(servers) == 0 {
		return Logical{}, &EmptyServerListError{Reason: "no server matches the filters"}
	}
	return servers[s.Rand.Intn(len(servers))], nil
}

// Physical picks an enabled physical server of the logical uniformly
// For normal and secure core servers the domain is corrected to match the exit hop
func (s *Selector) Physical(l Logical) (Physical, error) {
	var enabled []Physical
	for _, p := range l.Servers {
		if p.Enabled() {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return Physical{}, &EmptyServerListError{Reason: "server " + l.Name + " has no active physical servers"}
	}
	p := enabled[s.Rand.Intn(len(enabled))]
	if l.Features == FeatureNormal || l.Features == FeatureSecureCore {
		p.Domain = s.Catalog.domainForEntry(p.ExitIP, p.Domain)
	}
	return p, nil
}

// domainForEntry returns the domain of the physical server whose entry IP is ip
func (c *Catalog) domainForEntry(ip string, fallback string) string {
	if c == nil {
		return fallback
	}
	for _, l := range c.Logicals {
		for _, p := range l.Servers {
			if p.EntryIP == ip {
				return p.Domain
			}
		}
	}
	return fallback
}

// ByName returns the logical server with the name or a ServerNotFoundError with the closest names
func (s *Selector) ByName(name string, q Query) (Logical, error) {
	q.Name = name
	found := s.Catalog.Filter(q)
	if len(found) > 0 {
		return found[0], nil
	}
	if l, ok := s.Catalog.Find(name); ok {
		return Logical{}, &EmptyServerListError{Reason: "server " + l.Name + " is not available for your plan or is in maintenance"}
	}
	return Logical{}, &ServerNotFoundError{
		Name:        name,
		Suggestions: levenshtein.Closest(name, s.Catalog.Names(), suggestions),
	}
}
