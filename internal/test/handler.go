package test

import (
	"io"
	"net/http"
	"sync"
)

// HandlerSet is a struct with a mutex that allows us to swap handlers while a test server is running
type HandlerSet struct {
	mu      sync.Mutex
	handler http.Handler
}

// SetHandler sets the handler to `handler`
func (hs *HandlerSet) SetHandler(handler http.Handler) {
	hs.mu.Lock()
	hs.handler = handler
	hs.mu.Unlock()
}

// ServeHTTP serves HTTP using the handler
func (hs *HandlerSet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs.mu.Lock()
	handler := hs.handler
	hs.mu.Unlock()
	handler.ServeHTTP(w, r)
}

// Response is a canned response of a Sequence
type Response struct {
	Status int
	Header http.Header
	Body   string
}

// Sequence replies with the responses in order and records the requests it saw
// The last response is repeated once the sequence is exhausted
type Sequence struct {
	mu        sync.Mutex
	responses []Response
	requests  []*http.Request
	bodies    []string
}

// NewSequence creates a handler that replies with responses in order
func NewSequence(responses ...Response) *Sequence {
	return &Sequence{responses: responses}
}

// ServeHTTP serves the next response
func (s *Sequence) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, r)
	s.bodies = append(s.bodies, string(body))
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	resp := s.responses[idx]
	s.mu.Unlock()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}

// Count returns the number of requests served
func (s *Sequence) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Request returns the i-th request and its body
func (s *Sequence) Request(i int) (*http.Request, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i], s.bodies[i]
}
