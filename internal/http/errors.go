package http

import (
	"encoding/json"
	"fmt"
)

// Proton API error codes that mean the credentials were rejected
const (
	codeWrongPassword = 8002
	codeNoVPNAccess   = 85032
)

// apiBody is the part of every API response that carries the result code
type apiBody struct {
	Code  int    `json:"Code"`
	Error string `json:"Error"`
}

// APIError is an API failure that is not retried
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d, code %d): %s", e.Status, e.Code, e.Message)
}

// AuthError indicates that the credentials were rejected
type AuthError struct {
	APIError
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error {
	return &e.APIError
}

// RateLimitError indicates that a 429 was still returned after retrying
type RateLimitError struct {
	URL string
}

func (e *RateLimitError) Error() string {
	return "API rate limit reached for " + e.URL
}

// UnavailableError indicates the API is unreachable: 503 after retrying or a DNS failure
type UnavailableError struct {
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return "API unavailable at " + e.URL + ": " + e.Err.Error()
	}
	return "API unavailable at " + e.URL
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates that the request timed out
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return "request to " + e.URL + " timed out"
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// UnhandledAPIError is a failure whose body could not be understood
type UnhandledAPIError struct {
	Status int
	Body   string
}

func (e *UnhandledAPIError) Error() string {
	return fmt.Sprintf("unhandled API error (HTTP %d): %s", e.Status, e.Body)
}

// toAPIError maps a status error to the typed API errors
func toAPIError(serr *StatusError) error {
	var b apiBody
	if err := json.Unmarshal([]byte(serr.Body), &b); err != nil || b.Code == 0 {
		return &UnhandledAPIError{Status: serr.Status, Body: serr.Body}
	}
	ae := APIError{Status: serr.Status, Code: b.Code, Message: b.Error}
	switch b.Code {
	case codeWrongPassword, codeNoVPNAccess:
		return &AuthError{APIError: ae}
	}
	return &ae
}
