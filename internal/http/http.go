// Package http defines higher level helpers for the net/http package
// and the session wrapper that talks to the Proton API
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/version"
)

// UserAgent is the user agent that is used for every request
var UserAgent = "ProtonVPN/" + version.Version + " (Linux)"

// AppVersion is the value of the x-pm-appversion header
var AppVersion = "LinuxVPN_" + version.Version

// URLParameters is a type used for the parameters in the URL
type URLParameters map[string]string

// OptionalParams is a structure that defines the optional parameters that are given when making a HTTP call
type OptionalParams struct {
	Headers       http.Header
	URLParameters URLParameters
	Body          []byte
	Timeout       time.Duration
}

// JoinURLPath joins url's path with the path p
func JoinURLPath(u string, p string) (string, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return "", errors.WrapPrefix(err, "failed to parse url for joining paths", 0)
	}
	pu.Path = path.Join("/", pu.Path, p)
	return pu.String(), nil
}

// ConstructURL creates a URL with the included parameters
func ConstructURL(baseURL string, parameters URLParameters) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.WrapPrefix(err, "failed to construct url: "+baseURL, 0)
	}

	q := u.Query()
	for p, value := range parameters {
		q.Set(p, value)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is a wrapper around http.Client with the default timeout
type Client struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewClient returns a HTTP client using the given transport
// A nil transport uses the default transport
func NewClient(transport http.RoundTripper) *Client {
	c := &http.Client{}
	if transport != nil {
		c.Transport = transport
	}
	return &Client{Client: c, Timeout: 10 * time.Second}
}

// Get creates a Get request and returns the headers, body and an error
func (c *Client) Get(ctx context.Context, url string) (http.Header, []byte, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// Do sends a HTTP request using a method (e.g. GET, POST), an url and optional parameters
// It returns the HTTP headers, the body and an error if there is one
// A non 2xx status returns a *StatusError with the body
func (c *Client) Do(ctx context.Context, method string, u string, opts *OptionalParams) (http.Header, []byte, error) {
	if opts != nil && len(opts.URLParameters) > 0 {
		var err error
		if u, err = ConstructURL(u, opts.URLParameters); err != nil {
			return nil, nil, err
		}
	}

	timeout := c.Timeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if opts != nil && opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, errors.WrapPrefix(err, fmt.Sprintf("failed creating request %s %s", method, u), 0)
	}
	req.Header.Set("User-Agent", UserAgent)
	if opts != nil {
		for k, vs := range opts.Headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, nil, classifyTransport(u, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Header, nil, classifyTransport(u, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, b, &StatusError{URL: u, Body: string(b), Status: resp.StatusCode, Header: resp.Header}
	}
	return resp.Header, b, nil
}

// classifyTransport maps timeouts and DNS failures to the typed errors
func classifyTransport(u string, err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return &TimeoutError{URL: u, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &UnavailableError{URL: u, Err: err}
	}
	return errors.WrapPrefix(err, "failed HTTP request to "+u, 0)
}

// StatusError indicates that we have received a HTTP status error
type StatusError struct {
	URL    string
	Body   string
	Status int
	Header http.Header
}

// Error returns the StatusError as an error string
func (e *StatusError) Error() string {
	return fmt.Sprintf(
		"failed obtaining HTTP resource: %s as it gave an unsuccessful status code: %d. Body: %s",
		e.URL,
		e.Status,
		strings.TrimSpace(e.Body),
	)
}
