package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/protonvpn/protonvpn-nm-core/internal/log"
	"github.com/protonvpn/protonvpn-nm-core/internal/util"
)

// request is a single API call that can be re-issued
type request struct {
	method   string
	endpoint string
	opts     *OptionalParams
	// logout suppresses the 401 refresh, the session is invalid anyway
	logout bool
}

// strategy handles a failed call, it may re-issue the request once
type strategy func(ctx context.Context, s *Session, req *request, serr *StatusError) ([]byte, error)

// strategies is the error handler table keyed by HTTP status
// Every status that is not in the table uses defaultStrategy
var strategies = map[int]strategy{
	http.StatusUnauthorized:       expiredStrategy,
	http.StatusTooManyRequests:    rateLimitStrategy,
	http.StatusServiceUnavailable: unavailableStrategy,
}

// dispatch looks up the strategy for the status of the error
func dispatch(ctx context.Context, s *Session, req *request, serr *StatusError) ([]byte, error) {
	if h, ok := strategies[serr.Status]; ok {
		return h(ctx, s, req, serr)
	}
	return defaultStrategy(ctx, s, req, serr)
}

// defaultStrategy maps the error to a typed error, nothing is retried
func defaultStrategy(_ context.Context, _ *Session, _ *request, serr *StatusError) ([]byte, error) {
	return nil, toAPIError(serr)
}

// reissue sends the request again, a failure is never dispatched again
func reissue(ctx context.Context, s *Session, req *request) ([]byte, error) {
	body, err := s.send(ctx, req)
	if err == nil {
		return body, nil
	}
	if serr, ok := err.(*StatusError); ok {
		return nil, toAPIError(serr)
	}
	return nil, err
}

// expiredStrategy refreshes the tokens and re-issues the call exactly once
func expiredStrategy(ctx context.Context, s *Session, req *request, serr *StatusError) ([]byte, error) {
	if req.logout {
		log.Logger.Debugf("Ignoring 401 on logout, session already invalid")
		return nil, nil
	}
	log.Logger.Debugf("Got a 401 for %s %s, refreshing the session...", req.method, req.endpoint)
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return reissue(ctx, s, req)
}

const (
	rateLimitMin   = 2 * time.Second
	rateLimitMax   = 20 * time.Second
	unavailableMin = 2 * time.Second
	unavailableMax = 10 * time.Second
)

// retryAfter parses the Retry-After header as a number of seconds
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// rateLimitStrategy waits for Retry-After or a random [2, 20] s and re-issues once
func rateLimitStrategy(ctx context.Context, s *Session, req *request, serr *StatusError) ([]byte, error) {
	wait, ok := retryAfter(serr.Header)
	if !ok {
		wait = util.RandomDuration(rateLimitMin, rateLimitMax)
	}
	log.Logger.Warningf("Rate limited on %s, retrying in %v", req.endpoint, wait)
	if err := s.sleep(ctx, wait); err != nil {
		return nil, err
	}
	body, err := reissue(ctx, s, req)
	if isStatus(err, http.StatusTooManyRequests) {
		return nil, &RateLimitError{URL: req.endpoint}
	}
	return body, err
}

// unavailableStrategy waits a random [2, 10] s and re-issues once
func unavailableStrategy(ctx context.Context, s *Session, req *request, _ *StatusError) ([]byte, error) {
	wait := util.RandomDuration(unavailableMin, unavailableMax)
	log.Logger.Warningf("API unavailable on %s, retrying in %v", req.endpoint, wait)
	if err := s.sleep(ctx, wait); err != nil {
		return nil, err
	}
	body, err := reissue(ctx, s, req)
	if isStatus(err, http.StatusServiceUnavailable) {
		return nil, &UnavailableError{URL: req.endpoint}
	}
	return body, err
}

// isStatus reports whether err is an API error with the given HTTP status
func isStatus(err error, status int) bool {
	switch e := err.(type) {
	case *APIError:
		return e.Status == status
	case *AuthError:
		return e.Status == status
	case *UnhandledAPIError:
		return e.Status == status
	}
	return false
}

// sleepContext sleeps for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
