// Package connectivity checks that the internet and the API can be reached before connecting
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-errors/errors"

	httpw "github.com/protonvpn/protonvpn-nm-core/internal/http"
	"github.com/protonvpn/protonvpn-nm-core/internal/log"
)

const (
	// InternetTimeout is the timeout of the internet probe
	InternetTimeout = 5 * time.Second

	// DefaultInternetURL is requested by the internet probe
	DefaultInternetURL = "https://protonvpn.com"
)

// Kind is the probe that failed
type Kind int8

const (
	// KindInternet means no host on the internet could be reached
	KindInternet Kind = iota
	// KindAPI means the internet works but the API does not answer
	KindAPI
)

func (k Kind) String() string {
	if k == KindAPI {
		return "API"
	}
	return "internet"
}

// ConnectivityError is returned when a probe fails
type ConnectivityError struct {
	Kind Kind
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s connectivity check failed: %v", e.Kind, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Pinger is implemented by the API session
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the probes
type Checker struct {
	client *httpw.Client

	// InternetURL defaults to DefaultInternetURL
	InternetURL string
	// API is probed after the internet, nil skips that probe
	API Pinger
}

// New creates a checker that probes the API through api
func New(api Pinger) *Checker {
	return &Checker{client: httpw.NewClient(nil), InternetURL: DefaultInternetURL, API: api}
}

// SetTransport overrides the transport of the internet probe
func (c *Checker) SetTransport(rt http.RoundTripper) {
	c.client.Client.Transport = rt
}

// Internet requests InternetURL, any HTTP answer counts as connectivity
func (c *Checker) Internet(ctx context.Context) error {
	_, _, err := c.client.Do(ctx, http.MethodHead, c.InternetURL, &httpw.OptionalParams{Timeout: InternetTimeout})
	var serr *httpw.StatusError
	if err != nil && !errors.As(err, &serr) {
		log.Logger.Debugf("Internet probe of %s failed: %v", c.InternetURL, err)
		return &ConnectivityError{Kind: KindInternet, Err: err}
	}
	return nil
}

// Reachable probes the API, an answer with an error status still fails
func (c *Checker) Reachable(ctx context.Context) error {
	if c.API == nil {
		return nil
	}
	if err := c.API.Ping(ctx); err != nil {
		log.Logger.Debugf("API probe failed: %v", err)
		return &ConnectivityError{Kind: KindAPI, Err: err}
	}
	return nil
}

// Check runs the internet probe and then the API probe
func (c *Checker) Check(ctx context.Context) error {
	if err := c.Internet(ctx); err != nil {
		return err
	}
	return c.Reachable(ctx)
}
