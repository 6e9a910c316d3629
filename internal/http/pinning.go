package http

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-errors/errors"
)

// APIPins are the base64 SHA-256 hashes of the subject public key info of the API certificates
var APIPins = []string{
	"drtmcR2kFkM8qJClsuWgUzxgBkePfRCkRpqUesyDmeE=",
	"YRGlaY0jyJ4Jw2/4M8FIftwbDIQfh8Sdro96CeEel54=",
	"AfMENBVvOS8MnISprtvyPsjKlPooqh8nMB/pvCrpJpw=",
}

// ErrPinMismatch is returned when no certificate in the chain matches a pin
var ErrPinMismatch = errors.New("TLS certificate does not match any pinned key")

// spkiHash returns the base64 SHA-256 of the certificate public key info
func spkiHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// verifyPins returns a function for tls.Config.VerifyConnection that checks
// that at least one certificate of the verified chain is pinned
func verifyPins(pins []string) func(tls.ConnectionState) error {
	allowed := make(map[string]struct{}, len(pins))
	for _, p := range pins {
		allowed[p] = struct{}{}
	}
	return func(cs tls.ConnectionState) error {
		for _, cert := range cs.PeerCertificates {
			if _, ok := allowed[spkiHash(cert)]; ok {
				return nil
			}
		}
		return ErrPinMismatch
	}
}

// NewPinnedTransport returns a transport that only accepts certificates matching pins
// If pins is empty the regular system verification is used
func NewPinnedTransport(pins []string) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSHandshakeTimeout = 10 * time.Second
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(pins) > 0 {
		cfg.VerifyConnection = verifyPins(pins)
	}
	t.TLSClientConfig = cfg
	return t
}
