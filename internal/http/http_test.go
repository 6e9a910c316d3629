package http

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/protonvpn/protonvpn-nm-core/internal/test"
)

func Test_JoinURLPath(t *testing.T) {
	cases := []struct {
		u    string
		p    string
		want string
	}{
		{u: "https://example.com", p: "test", want: "https://example.com/test"},
		{u: "https://example.com", p: "/test", want: "https://example.com/test"},
		{u: "https://example.com", p: "../test", want: "https://example.com/test"},
		{u: "https://example.com/api", p: "vpn/logicals", want: "https://example.com/api/vpn/logicals"},
	}
	for _, c := range cases {
		got, err := JoinURLPath(c.u, c.p)
		if err != nil {
			t.Fatalf("Failed to parse join url case: %v, err: %v", c, err)
		}
		if got != c.want {
			t.Fatalf("Failed test case for joining URL, want: %v, got: %v", c.want, got)
		}
	}
}

func testDump(apiURL string) Dump {
	return Dump{
		AccessToken:  "access",
		RefreshToken: "refresh",
		UID:          "uid",
		Scopes:       []string{"vpn"},
		APIURL:       apiURL,
		AppVersion:   AppVersion,
		UserAgent:    UserAgent,
	}
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func newTestSession(t *testing.T, seq *test.Sequence) (*Session, *sleepRecorder) {
	srv := test.NewServer(seq)
	t.Cleanup(srv.Close)
	tr, err := srv.Transport()
	if err != nil {
		t.Fatalf("failed getting test transport: %v", err)
	}
	s := NewSession(srv.URL, false)
	s.SetTransport(tr)
	if err = s.Load(testDump(srv.URL)); err != nil {
		t.Fatalf("failed loading session: %v", err)
	}
	rec := &sleepRecorder{}
	s.SetSleep(rec.sleep)
	return s, rec
}

func TestDumpValidate(t *testing.T) {
	d := testDump("https://example.com")
	if err := d.Validate(); err != nil {
		t.Fatalf("full dump, got error: %v", err)
	}
	d.RefreshToken = ""
	if err := d.Validate(); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("partial dump, got: %v, want: %v", err, ErrSessionCorrupt)
	}
	s := NewSession("https://example.com", false)
	if err := s.Load(d); err == nil {
		t.Fatalf("loaded a partial dump")
	}
	if s.Authenticated() {
		t.Fatalf("session is authenticated after a rejected load")
	}
}

func TestCallHeaders(t *testing.T) {
	seq := test.NewSequence(test.Response{Body: `{"Code": 1000}`})
	s, _ := newTestSession(t, seq)
	if _, err := s.Call(context.Background(), "", "/vpn", nil, nil); err != nil {
		t.Fatalf("failed call: %v", err)
	}
	r, _ := seq.Request(0)
	want := map[string]string{
		"x-pm-uid":        "uid",
		"Authorization":   "Bearer access",
		"x-pm-apiversion": "3",
		"x-pm-appversion": AppVersion,
		"User-Agent":      UserAgent,
	}
	for k, v := range want {
		if got := r.Header.Get(k); got != v {
			t.Fatalf("header %s, got: %q, want: %q", k, got, v)
		}
	}
	if r.Method != http.MethodGet || r.URL.Path != "/vpn" {
		t.Fatalf("got request %s %s, want: GET /vpn", r.Method, r.URL.Path)
	}
}

func TestExpiredRefreshesOnce(t *testing.T) {
	seq := test.NewSequence(
		test.Response{Status: 401, Body: `{"Code": 401, "Error": "Invalid access token"}`},
		test.Response{Body: `{"Code": 1000, "AccessToken": "access2", "RefreshToken": "refresh2"}`},
		test.Response{Body: `{"Code": 1000, "Value": 1}`},
	)
	s, _ := newTestSession(t, seq)
	var refreshed []Dump
	s.OnRefresh = func(d Dump) { refreshed = append(refreshed, d) }

	b, err := s.Call(context.Background(), "", "/vpn", nil, nil)
	if err != nil {
		t.Fatalf("failed call: %v", err)
	}
	if string(b) != `{"Code": 1000, "Value": 1}` {
		t.Fatalf("got body: %s", b)
	}
	if seq.Count() != 3 {
		t.Fatalf("got %d requests, want: 3", seq.Count())
	}
	r, body := seq.Request(1)
	if r.URL.Path != "/auth/refresh" {
		t.Fatalf("second request is %s, want: /auth/refresh", r.URL.Path)
	}
	if !containsAll(body, `"GrantType":"refresh_token"`, `"RefreshToken":"refresh"`) {
		t.Fatalf("unexpected refresh body: %s", body)
	}
	r, _ = seq.Request(2)
	if got := r.Header.Get("Authorization"); got != "Bearer access2" {
		t.Fatalf("retry used %q, want the new token", got)
	}
	if len(refreshed) != 1 || refreshed[0].AccessToken != "access2" || refreshed[0].RefreshToken != "refresh2" {
		t.Fatalf("refresh callback got: %v", refreshed)
	}
}

func TestExpiredTwiceSurfaces(t *testing.T) {
	seq := test.NewSequence(
		test.Response{Status: 401, Body: `{"Code": 401, "Error": "expired"}`},
		test.Response{Body: `{"Code": 1000, "AccessToken": "a", "RefreshToken": "r"}`},
		test.Response{Status: 401, Body: `{"Code": 10013, "Error": "still expired"}`},
	)
	s, _ := newTestSession(t, seq)
	_, err := s.Call(context.Background(), "", "/vpn", nil, nil)
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("got error: %v, want an APIError", err)
	}
	if ae.Status != 401 || ae.Code != 10013 {
		t.Fatalf("got: %+v", ae)
	}
	if seq.Count() != 3 {
		t.Fatalf("got %d requests, want: 3", seq.Count())
	}
}

func TestRateLimitRetryAfter(t *testing.T) {
	seq := test.NewSequence(
		test.Response{Status: 429, Header: http.Header{"Retry-After": {"3"}}, Body: `{"Code": 2028, "Error": "slow down"}`},
		test.Response{Body: `{"Code": 1000}`},
	)
	s, rec := newTestSession(t, seq)
	if _, err := s.Call(context.Background(), "", "/vpn/logicals", nil, nil); err != nil {
		t.Fatalf("failed call: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{3 * time.Second}, rec.sleeps); diff != "" {
		t.Fatalf("sleeps differ (-want +got):\n%s", diff)
	}
}

func TestRateLimitTwice(t *testing.T) {
	seq := test.NewSequence(
		test.Response{Status: 429, Body: `{"Code": 2028, "Error": "slow down"}`},
	)
	s, rec := newTestSession(t, seq)
	_, err := s.Call(context.Background(), "", "/vpn/logicals", nil, nil)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("got error: %v, want a RateLimitError", err)
	}
	if len(rec.sleeps) != 1 || rec.sleeps[0] < rateLimitMin || rec.sleeps[0] > rateLimitMax {
		t.Fatalf("got sleeps: %v", rec.sleeps)
	}
	if seq.Count() != 2 {
		t.Fatalf("got %d requests, want: 2", seq.Count())
	}
}

func TestUnavailable(t *testing.T) {
	cases := []struct {
		responses []test.Response
		wantErr   bool
	}{
		{
			responses: []test.Response{
				{Status: 503, Body: `{"Code": 503, "Error": "down"}`},
				{Body: `{"Code": 1000}`},
			},
		},
		{
			responses: []test.Response{{Status: 503, Body: "gateway"}},
			wantErr:   true,
		},
	}
	for _, c := range cases {
		seq := test.NewSequence(c.responses...)
		s, rec := newTestSession(t, seq)
		_, err := s.Call(context.Background(), "", "/vpn/loads", nil, nil)
		var ue *UnavailableError
		if c.wantErr != errors.As(err, &ue) {
			t.Fatalf("got error: %v, want unavailable: %v", err, c.wantErr)
		}
		if len(rec.sleeps) != 1 || rec.sleeps[0] < unavailableMin || rec.sleeps[0] > unavailableMax {
			t.Fatalf("got sleeps: %v", rec.sleeps)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		resp  test.Response
		check func(error) bool
	}{
		{
			resp: test.Response{Status: 422, Body: `{"Code": 8002, "Error": "Incorrect login credentials"}`},
			check: func(err error) bool {
				var ae *AuthError
				return errors.As(err, &ae) && ae.Code == 8002
			},
		},
		{
			resp: test.Response{Status: 403, Body: `{"Code": 85032, "Error": "no vpn"}`},
			check: func(err error) bool {
				var ae *AuthError
				return errors.As(err, &ae)
			},
		},
		{
			resp: test.Response{Status: 422, Body: `{"Code": 2001, "Error": "bad input"}`},
			check: func(err error) bool {
				var ae *APIError
				return errors.As(err, &ae) && ae.Message == "bad input"
			},
		},
		{
			resp: test.Response{Status: 500, Body: `<html>`},
			check: func(err error) bool {
				var ue *UnhandledAPIError
				return errors.As(err, &ue) && ue.Status == 500
			},
		},
	}
	for _, c := range cases {
		s, _ := newTestSession(t, test.NewSequence(c.resp))
		_, err := s.Call(context.Background(), "", "/vpn", nil, nil)
		if !c.check(err) {
			t.Fatalf("status %d: unexpected error %T: %v", c.resp.Status, err, err)
		}
	}
}

func TestLogoutIgnoresExpired(t *testing.T) {
	seq := test.NewSequence(test.Response{Status: 401, Body: `{"Code": 401, "Error": "expired"}`})
	s, _ := newTestSession(t, seq)
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout got error: %v", err)
	}
	if seq.Count() != 1 {
		t.Fatalf("got %d requests, want: 1", seq.Count())
	}
	r, _ := seq.Request(0)
	if r.Method != http.MethodDelete || r.URL.Path != "/auth" {
		t.Fatalf("got %s %s, want: DELETE /auth", r.Method, r.URL.Path)
	}
	if s.Authenticated() {
		t.Fatalf("session still authenticated after logout")
	}
}

func TestRetryAfter(t *testing.T) {
	cases := []struct {
		v    string
		want time.Duration
		ok   bool
	}{
		{v: "3", want: 3 * time.Second, ok: true},
		{v: " 0 ", want: 0, ok: true},
		{v: "", ok: false},
		{v: "-1", ok: false},
		{v: "Wed, 21 Oct 2015 07:28:00 GMT", ok: false},
	}
	for _, c := range cases {
		h := http.Header{}
		if c.v != "" {
			h.Set("Retry-After", c.v)
		}
		got, ok := retryAfter(h)
		if ok != c.ok || got != c.want {
			t.Fatalf("retryAfter(%q) = %v, %v, want: %v, %v", c.v, got, ok, c.want, c.ok)
		}
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestFinishAuth(t *testing.T) {
	seq := test.NewSequence(test.Response{Body: `{"Code": 1000}`})
	s, _ := newTestSession(t, seq)
	proof := []byte("server-proof")

	resp := authResponse{
		AccessToken:  "a2",
		RefreshToken: "r2",
		UID:          "uid2",
		ServerProof:  base64.StdEncoding.EncodeToString([]byte("forged")),
	}
	if err := s.finishAuth(context.Background(), resp, proof); !errors.Is(err, ErrServerProof) {
		t.Fatalf("got: %v, want: %v", err, ErrServerProof)
	}
	if got := s.Dump().AccessToken; got != "access" {
		t.Fatalf("a rejected proof replaced the token with %q", got)
	}

	resp.ServerProof = base64.StdEncoding.EncodeToString(proof)
	resp.TwoFA.Enabled = 1
	if err := s.finishAuth(context.Background(), resp, proof); !errors.Is(err, ErrTwoFactorUnsupported) {
		t.Fatalf("got: %v, want: %v", err, ErrTwoFactorUnsupported)
	}
	if seq.Count() != 1 {
		t.Fatalf("got %d requests, want the revoke only", seq.Count())
	}
	r, _ := seq.Request(0)
	if r.Method != http.MethodDelete || r.URL.Path != "/auth" || r.Header.Get("Authorization") != "Bearer a2" {
		t.Fatalf("got %s %s with %q, want the two factor session revoked", r.Method, r.URL.Path, r.Header.Get("Authorization"))
	}
	if s.Authenticated() {
		t.Fatalf("a two factor session stays authenticated")
	}

	resp.TwoFA.Enabled = 0
	if err := s.finishAuth(context.Background(), resp, proof); err != nil {
		t.Fatalf("failed finishing authentication: %v", err)
	}
	if d := s.Dump(); d.AccessToken != "a2" || d.UID != "uid2" {
		t.Fatalf("tokens not stored: %+v", d)
	}
}
