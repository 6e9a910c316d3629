package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-errors/errors"
)

// DefaultAPIURL is the Proton VPN API
const DefaultAPIURL = "https://api.protonvpn.ch"

// ErrSessionCorrupt is returned when a session dump is only partially present
var ErrSessionCorrupt = errors.New("session data is incomplete")

// ErrNotAuthenticated is returned when an authenticated call is done without a session
var ErrNotAuthenticated = errors.New("no authenticated session")

// Dump is the serialized session credentials
// Either every field is set or the dump is rejected
type Dump struct {
	AccessToken  string   `json:"AccessToken"`
	RefreshToken string   `json:"RefreshToken"`
	UID          string   `json:"UID"`
	Scopes       []string `json:"Scopes"`
	APIURL       string   `json:"api_url"`
	AppVersion   string   `json:"appversion"`
	UserAgent    string   `json:"User-Agent"`
	TLSPinning   bool     `json:"tls_pinning"`
}

// Validate rejects partial dumps
func (d Dump) Validate() error {
	if d.AccessToken == "" || d.RefreshToken == "" || d.UID == "" || len(d.Scopes) == 0 ||
		d.APIURL == "" || d.AppVersion == "" || d.UserAgent == "" {
		return ErrSessionCorrupt
	}
	return nil
}

// Session wraps a pinned HTTP client with the Proton session tokens
// Every call goes through the error strategy table
type Session struct {
	mu     sync.Mutex
	client *Client
	dump   Dump
	sleep  func(context.Context, time.Duration) error

	// OnRefresh is called with the new dump after the tokens were rotated
	OnRefresh func(Dump)
}

// NewSession creates an unauthenticated session for apiURL
func NewSession(apiURL string, pinning bool) *Session {
	s := &Session{
		dump: Dump{
			APIURL:     strings.TrimRight(apiURL, "/"),
			AppVersion: AppVersion,
			UserAgent:  UserAgent,
			TLSPinning: pinning,
		},
		sleep: sleepContext,
	}
	s.client = newAPIClient(pinning)
	return s
}

func newAPIClient(pinning bool) *Client {
	if pinning {
		return NewClient(NewPinnedTransport(APIPins))
	}
	return NewClient(NewPinnedTransport(nil))
}

// SetTransport overrides the transport, e.g. for a test server
func (s *Session) SetTransport(rt http.RoundTripper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.Client.Transport = rt
}

// SetSleep overrides how the error strategies wait before retrying
func (s *Session) SetSleep(f func(context.Context, time.Duration) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleep = f
}

// APIURL returns the base URL of the API
func (s *Session) APIURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dump.APIURL
}

// Authenticated returns whether the session holds tokens
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dump.AccessToken != ""
}

// Dump returns a copy of the session credentials
func (s *Session) Dump() Dump {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dump
	d.Scopes = append([]string(nil), s.dump.Scopes...)
	return d
}

// Load restores the session credentials from a dump
func (s *Session) Load(d Dump) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	transport := s.client.Client.Transport
	if d.TLSPinning != s.dump.TLSPinning {
		transport = newAPIClient(d.TLSPinning).Client.Transport
	}
	s.dump = d
	s.client.Client.Transport = transport
	return nil
}

// send performs the request with the session headers, errors are not dispatched
func (s *Session) send(ctx context.Context, req *request) ([]byte, error) {
	s.mu.Lock()
	d := s.dump
	c := s.client
	s.mu.Unlock()

	u, err := JoinURLPath(d.APIURL, req.endpoint)
	if err != nil {
		return nil, err
	}
	opts := &OptionalParams{Headers: http.Header{}}
	if req.opts != nil {
		opts.Body = req.opts.Body
		opts.Timeout = req.opts.Timeout
		opts.URLParameters = req.opts.URLParameters
		for k, vs := range req.opts.Headers {
			opts.Headers[k] = append([]string(nil), vs...)
		}
	}
	opts.Headers.Set("x-pm-appversion", d.AppVersion)
	opts.Headers.Set("x-pm-apiversion", "3")
	opts.Headers.Set("Accept", "application/vnd.protonmail.v1+json")
	if opts.Body != nil {
		opts.Headers.Set("Content-Type", "application/json")
	}
	if d.UID != "" {
		opts.Headers.Set("x-pm-uid", d.UID)
	}
	if d.AccessToken != "" {
		opts.Headers.Set("Authorization", "Bearer "+d.AccessToken)
	}
	_, body, err := c.Do(ctx, req.method, u, opts)
	return body, err
}

// call sends a request and dispatches failures through the strategy table
func (s *Session) call(ctx context.Context, req *request) ([]byte, error) {
	body, err := s.send(ctx, req)
	if err == nil {
		return body, nil
	}
	serr, ok := err.(*StatusError)
	if !ok {
		return nil, err
	}
	return dispatch(ctx, s, req, serr)
}

func encodeBody(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if b, ok := body.([]byte); ok {
		return b, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed encoding request body", 0)
	}
	return b, nil
}

// Call performs an API call, an empty method means GET, or POST when a body is given
// body is JSON encoded unless it is already a byte slice
func (s *Session) Call(ctx context.Context, method, endpoint string, body interface{}, headers http.Header) ([]byte, error) {
	b, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
		if b != nil {
			method = http.MethodPost
		}
	}
	return s.call(ctx, &request{
		method:   method,
		endpoint: endpoint,
		opts:     &OptionalParams{Body: b, Headers: headers},
	})
}

// CallJSON is Call that decodes the response into v
func (s *Session) CallJSON(ctx context.Context, method, endpoint string, body interface{}, v interface{}) error {
	b, err := s.Call(ctx, method, endpoint, body, nil)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(b, v); err != nil {
		return errors.WrapPrefix(err, "failed decoding response of "+endpoint, 0)
	}
	return nil
}

type refreshRequest struct {
	ResponseType string `json:"ResponseType"`
	GrantType    string `json:"GrantType"`
	RefreshToken string `json:"RefreshToken"`
	RedirectURI  string `json:"RedirectURI"`
}

type refreshResponse struct {
	AccessToken  string   `json:"AccessToken"`
	RefreshToken string   `json:"RefreshToken"`
	Scopes       []string `json:"Scopes"`
}

// Refresh rotates the access and refresh tokens
func (s *Session) Refresh(ctx context.Context) error {
	d := s.Dump()
	if d.RefreshToken == "" {
		return ErrNotAuthenticated
	}
	b, err := encodeBody(refreshRequest{
		ResponseType: "token",
		GrantType:    "refresh_token",
		RefreshToken: d.RefreshToken,
		RedirectURI:  "http://protonmail.ch",
	})
	if err != nil {
		return err
	}
	body, err := s.send(ctx, &request{
		method:   http.MethodPost,
		endpoint: "/auth/refresh",
		opts:     &OptionalParams{Body: b},
	})
	if err != nil {
		if serr, ok := err.(*StatusError); ok {
			return toAPIError(serr)
		}
		return err
	}
	var r refreshResponse
	if err = json.Unmarshal(body, &r); err != nil {
		return errors.WrapPrefix(err, "failed decoding refresh response", 0)
	}
	if r.AccessToken == "" || r.RefreshToken == "" {
		return ErrSessionCorrupt
	}

	s.mu.Lock()
	s.dump.AccessToken = r.AccessToken
	s.dump.RefreshToken = r.RefreshToken
	if len(r.Scopes) > 0 {
		s.dump.Scopes = r.Scopes
	}
	cb := s.OnRefresh
	s.mu.Unlock()

	if cb != nil {
		cb(s.Dump())
	}
	return nil
}

// Logout revokes the session on the API and forgets the tokens
// A 401 is ignored as the session is already invalid in that case
func (s *Session) Logout(ctx context.Context) error {
	var err error
	if s.Authenticated() {
		_, err = s.call(ctx, &request{method: http.MethodDelete, endpoint: "/auth", logout: true})
	}
	s.mu.Lock()
	s.dump.AccessToken = ""
	s.dump.RefreshToken = ""
	s.dump.UID = ""
	s.dump.Scopes = nil
	s.mu.Unlock()
	return err
}

// Probe sends a single GET with the timeout, failures are not retried
func (s *Session) Probe(ctx context.Context, endpoint string, timeout time.Duration) error {
	_, err := s.send(ctx, &request{
		method:   http.MethodGet,
		endpoint: endpoint,
		opts:     &OptionalParams{Timeout: timeout},
	})
	if serr, ok := err.(*StatusError); ok {
		return toAPIError(serr)
	}
	return err
}
