package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/google/go-cmp/cmp"
)

// seqRand returns the values in order, modulo n
type seqRand struct {
	values []int
	calls  []int
}

func (r *seqRand) Intn(n int) int {
	r.calls = append(r.calls, n)
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[0]
	r.values = r.values[1:]
	return v % n
}

func logical(name, country string, tier int, features Feature, score float64) Logical {
	return Logical{
		Name:         name,
		EntryCountry: country,
		ExitCountry:  country,
		Tier:         tier,
		Features:     features,
		ID:           "id-" + name,
		Status:       1,
		Score:        score,
		Load:         10,
		Servers: []Physical{
			{EntryIP: "10.0.0.1", ExitIP: "10.0.0.1", Domain: name + ".example", ID: "p-" + name, Status: 1},
		},
	}
}

func testCatalog() *Catalog {
	region := "Zurich"
	ch := logical("CH#1", "CH", 2, FeatureNormal, 3)
	ch.Region = &region
	disabled := logical("NL#2", "NL", 0, FeatureNormal, 0.1)
	disabled.Status = 0
	return New([]Logical{
		logical("NL#1", "NL", 0, FeatureNormal, 2),
		disabled,
		ch,
		logical("CH-NL#1", "NL", 2, FeatureSecureCore, 1),
		logical("PT#5", "PT", 2, FeatureP2P, 4),
		logical("US-NY#1-TOR", "US", 2, FeatureTor, 5),
	}, time.Unix(1000, 0))
}

func names(ls []Logical) []string {
	var out []string
	for _, l := range ls {
		out = append(out, l.Name)
	}
	return out
}

func TestFilter(t *testing.T) {
	c := testCatalog()
	cases := []struct {
		q    Query
		want []string
	}{
		{q: Query{Tier: 0}, want: []string{"NL#1"}},
		{q: Query{Tier: 2}, want: []string{"NL#1", "CH#1", "CH-NL#1", "PT#5", "US-NY#1-TOR"}},
		{q: Query{Tier: 2, Country: "nl"}, want: []string{"NL#1", "CH-NL#1"}},
		{q: Query{Tier: 2, Name: "pt#5"}, want: []string{"PT#5"}},
		{q: Query{Tier: 2, IncludeFeatures: []Feature{FeatureP2P, FeatureTor}}, want: []string{"PT#5", "US-NY#1-TOR"}},
		{q: Query{Tier: 2, ExcludeFeatures: []Feature{FeatureSecureCore, FeatureTor}}, want: []string{"NL#1", "CH#1", "PT#5"}},
		{q: Query{IgnoreTier: true, Country: "NL"}, want: []string{"NL#1", "NL#2", "CH-NL#1"}},
	}
	for _, tc := range cases {
		got := names(c.Filter(tc.q))
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("query %+v differs (-want +got):\n%s", tc.q, diff)
		}
	}
}

func TestFilterBaseline(t *testing.T) {
	c := testCatalog()
	for tier := 0; tier <= 3; tier++ {
		for _, l := range c.Filter(Query{Tier: tier}) {
			if l.Tier > tier || l.Status != 1 {
				t.Fatalf("tier %d: got ineligible server %s", tier, l.Name)
			}
		}
	}
}

func TestFilterDoesNotAlias(t *testing.T) {
	c := testCatalog()
	got := c.Filter(Query{Tier: 2, Name: "NL#1"})
	got[0].Servers[0].Domain = "changed"
	got[0].Load = 99
	l, _ := c.Find("NL#1")
	if l.Servers[0].Domain == "changed" || l.Load == 99 {
		t.Fatalf("filtering returned a list that aliases the catalog")
	}
}

func TestFastestPool(t *testing.T) {
	var many []Logical
	for i := 0; i < 60; i++ {
		many = append(many, logical(fmt.Sprintf("SE#%d", i), "SE", 0, FeatureNormal, float64(100-i)))
	}
	r := &seqRand{values: []int{3}}
	s := &Selector{Catalog: New(many, time.Now()), Rand: r}
	got, err := s.Fastest(many)
	if err != nil {
		t.Fatalf("failed fastest: %v", err)
	}
	if r.calls[0] != 4 {
		t.Fatalf("pool size %d, want: 4", r.calls[0])
	}
	// scores are 41..100, the 4th best is 44 which is SE#56
	if got.Name != "SE#56" {
		t.Fatalf("got: %s, want: SE#56", got.Name)
	}

	r = &seqRand{}
	s.Rand = r
	small := many[:49]
	got, err = s.Fastest(small)
	if err != nil {
		t.Fatalf("failed fastest: %v", err)
	}
	if r.calls[0] != 1 || got.Name != "SE#48" {
		t.Fatalf("pool size %d, server %s, want: 1, SE#48", r.calls[0], got.Name)
	}

	if _, err = s.Fastest(nil); err == nil {
		t.Fatalf("got nil error for an empty list")
	}
}

func TestPhysical(t *testing.T) {
	c := testCatalog()
	s := &Selector{Catalog: c, Rand: &seqRand{values: []int{1}}}
	l := logical("DE#1", "DE", 0, FeatureP2P, 1)
	l.Servers = []Physical{
		{EntryIP: "1.1.1.1", Status: 0},
		{EntryIP: "2.2.2.2", Status: 1},
		{EntryIP: "3.3.3.3", Status: 1},
	}
	p, err := s.Physical(l)
	if err != nil {
		t.Fatalf("failed physical: %v", err)
	}
	if p.EntryIP != "3.3.3.3" {
		t.Fatalf("got: %s, want: 3.3.3.3", p.EntryIP)
	}

	l.Servers = []Physical{{EntryIP: "1.1.1.1", Status: 0}}
	_, err = s.Physical(l)
	var empty *EmptyServerListError
	if !errors.As(err, &empty) {
		t.Fatalf("got: %v, want an EmptyServerListError", err)
	}
}

func TestSecureCoreDomain(t *testing.T) {
	exit := logical("IS#1", "IS", 2, FeatureNormal, 1)
	exit.Servers[0].EntryIP = "185.1.1.1"
	exit.Servers[0].Domain = "d.example"
	sc := logical("CH-IS#1", "IS", 2, FeatureSecureCore, 1)
	sc.Servers[0].EntryIP = "5.5.5.5"
	sc.Servers[0].ExitIP = "185.1.1.1"
	sc.Servers[0].Domain = "ch-is-01.example"
	p2p := logical("IS#2", "IS", 2, FeatureP2P, 1)
	p2p.Servers[0].ExitIP = "185.1.1.1"
	p2p.Servers[0].Domain = "p2p.example"

	s := &Selector{Catalog: New([]Logical{exit, sc, p2p}, time.Now()), Rand: &seqRand{}}
	p, err := s.Physical(sc)
	if err != nil {
		t.Fatalf("failed physical: %v", err)
	}
	if p.Domain != "d.example" {
		t.Fatalf("got domain: %s, want: d.example", p.Domain)
	}
	p, _ = s.Physical(p2p)
	if p.Domain != "p2p.example" {
		t.Fatalf("got domain: %s, the correction only applies to normal and secure core", p.Domain)
	}
}

func TestByName(t *testing.T) {
	s := &Selector{Catalog: testCatalog(), Rand: &seqRand{}}
	l, err := s.ByName("ch#1", Query{Tier: 2})
	if err != nil || l.Name != "CH#1" {
		t.Fatalf("got: %v, %v", l.Name, err)
	}
	_, err = s.ByName("CH#1", Query{Tier: 0})
	var empty *EmptyServerListError
	if !errors.As(err, &empty) {
		t.Fatalf("got: %v, want an EmptyServerListError for an ineligible server", err)
	}
	_, err = s.ByName("NL#9", Query{Tier: 2})
	var nf *ServerNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got: %v, want a ServerNotFoundError", err)
	}
	if len(nf.Suggestions) != 3 || nf.Suggestions[0] != "NL#1" {
		t.Fatalf("got suggestions: %v", nf.Suggestions)
	}
}

func TestUpdateLoads(t *testing.T) {
	c := testCatalog()
	c.UpdateLoads([]Load{{ID: "id-NL#1", Load: 77, Score: 0.5}}, time.Unix(2000, 0))
	l, _ := c.Find("NL#1")
	if l.Load != 77 || l.Score != 0.5 {
		t.Fatalf("got load %d score %v", l.Load, l.Score)
	}
	ch, _ := c.Find("CH#1")
	if ch.Load != 10 || ch.Score != 3 {
		t.Fatalf("servers not in the update changed: %+v", ch)
	}
	if c.LoadsUpdated != 2000 || c.LogicalsUpdated != 1000 {
		t.Fatalf("got timestamps %d %d", c.LogicalsUpdated, c.LoadsUpdated)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "cache", "cached_serverlist.json"))
	if _, err := s.Load(); err == nil {
		t.Fatalf("got nil error for a missing cache")
	}
	c := testCatalog()
	if err := s.Save(c); err != nil {
		t.Fatalf("failed saving: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("failed loading: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("catalog differs after round trip (-want +got):\n%s", diff)
	}
}

func TestStorePartial(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cached_serverlist.json")
	for _, content := range []string{`{"LogicalServers": [{"Name": "NL`, `{}`, ``} {
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("failed writing: %v", err)
		}
		_, err := NewStore(p).Load()
		var mc *MissingCacheError
		if !errors.As(err, &mc) {
			t.Fatalf("content %q: got: %v, want a MissingCacheError", content, err)
		}
	}
}

func TestCountryName(t *testing.T) {
	cases := map[string]string{
		"CH": "Switzerland",
		"pt": "Portugal",
		"XX": "XX",
		"":   "",
	}
	for code, want := range cases {
		if got := CountryName(code); got != want {
			t.Fatalf("CountryName(%q) = %q, want: %q", code, got, want)
		}
	}
}

func TestFeatureNames(t *testing.T) {
	if diff := cmp.Diff([]string{"P2P", "Streaming"}, (FeatureP2P | FeatureStreaming).Names()); diff != "" {
		t.Fatalf("names differ:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Normal"}, FeatureNormal.Names()); diff != "" {
		t.Fatalf("names differ:\n%s", diff)
	}
}
