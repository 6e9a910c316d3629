package catalog

import "strings"

// Query describes a filter over the catalog
// The zero value matches every eligible server
type Query struct {
	// Name matches the servername exactly, case-insensitive
	Name string
	// Country matches the exit country ISO code, case-insensitive
	Country string
	// IncludeFeatures matches when the server feature is one of these
	IncludeFeatures []Feature
	// ExcludeFeatures matches when the server feature is none of these
	ExcludeFeatures []Feature
	// Tier is the tier of the user
	Tier int
	// IgnoreTier disables the baseline of tier and status
	IgnoreTier bool
}

func containsFeature(set []Feature, f Feature) bool {
	for _, s := range set {
		if s == f {
			return true
		}
	}
	return false
}

// Match returns whether the logical server matches the query
func (q Query) Match(l Logical) bool {
	if !q.IgnoreTier && (l.Tier > q.Tier || !l.Enabled()) {
		return false
	}
	if q.Name != "" && !strings.EqualFold(l.Name, q.Name) {
		return false
	}
	if q.Country != "" && !strings.EqualFold(l.ExitCountry, q.Country) {
		return false
	}
	if len(q.IncludeFeatures) > 0 && !containsFeature(q.IncludeFeatures, l.Features) {
		return false
	}
	if containsFeature(q.ExcludeFeatures, l.Features) {
		return false
	}
	return true
}

// Filter returns a new list with the servers matching the query
// The catalog itself is never mutated
func (c *Catalog) Filter(q Query) []Logical {
	if c == nil {
		return nil
	}
	var out []Logical
	for _, l := range c.Logicals {
		if q.Match(l) {
			out = append(out, l.clone())
		}
	}
	return out
}
