// Package util implements helpers shared by the whole core: directories, validators and jitter
package util

import (
	"math/rand"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-errors/errors"
)

// EnsureDirectory creates a directory with permission 700
func EnsureDirectory(directory string) error {
	// Create with 700 permissions, read, write, execute only for the owner
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return errors.WrapPrefix(err, "failed to create directory "+directory, 0)
	}
	return nil
}

// IsCI returns whether the protonvpn_ci environment variable is set
// In CI mode transient files are kept and the reconnector is not spawned
func IsCI() bool {
	return os.Getenv("protonvpn_ci") == "1"
}

// IsDebug returns whether console logging was requested through PROTONVPN_DEBUG
func IsDebug() bool {
	return os.Getenv("PROTONVPN_DEBUG") == "1"
}

// JitterRatio is the ratio with which refresh intervals are randomized
const JitterRatio = 0.22

// Jitter returns base randomized uniformly within [base*(1-JitterRatio), base*(1+JitterRatio)]
func Jitter(base time.Duration) time.Duration {
	f := 1 + JitterRatio*(2*rand.Float64()-1) //nolint:gosec
	return time.Duration(float64(base) * f)
}

// RandomDuration returns a uniformly random duration in [min, max]
func RandomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1)) //nolint:gosec
}

// GetCurrentTime returns the current time
// It is a variable so that tests can move the clock
var GetCurrentTime = time.Now

var servernameRe = regexp.MustCompile(`(?i)^[a-z]{2}(-[a-z]{2,4})?(#[0-9]+(-tor)?|[0-9]+-tor)$`)

// IllegalServernameError is returned when a servername does not have the form CC#N, CC-CC#N or CCN-TOR
type IllegalServernameError struct {
	Name string
}

func (e *IllegalServernameError) Error() string {
	return "invalid servername: '" + e.Name + "'"
}

// ValidateServername checks the format of a servername, e.g. PT#1, CH-US#3, SE-FREE#12 or HK5-TOR
func ValidateServername(name string) error {
	if !servernameRe.MatchString(name) {
		return &IllegalServernameError{Name: name}
	}
	return nil
}

// InvalidIPError is returned when an IPv4 address could not be parsed
type InvalidIPError struct {
	IP string
}

func (e *InvalidIPError) Error() string {
	return "invalid IPv4 address: '" + e.IP + "'"
}

// ValidateIPv4 checks that ip is a dotted IPv4 address
func ValidateIPv4(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil || strings.Contains(ip, ":") {
		return &InvalidIPError{IP: ip}
	}
	return nil
}

// InvalidCountryError is returned when a country code is not two letters
type InvalidCountryError struct {
	Code string
}

func (e *InvalidCountryError) Error() string {
	return "invalid country code: '" + e.Code + "'"
}

var countryRe = regexp.MustCompile(`^[A-Za-z]{2}$`)

// ValidateCountry checks that code looks like an ISO 3166 alpha-2 code
func ValidateCountry(code string) error {
	if !countryRe.MatchString(code) {
		return &InvalidCountryError{Code: code}
	}
	return nil
}
