// Package test implements utilities for testing
package test

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
)

// Server is a TLS test server
type Server struct {
	*httptest.Server
}

// NewServer starts a TLS test server with the handler
func NewServer(handler http.Handler) *Server {
	s := httptest.NewTLSServer(handler)

	return &Server{s}
}

// Transport returns a transport that only trusts the test server certificate
func (srv *Server) Transport() (*http.Transport, error) {
	certs := x509.NewCertPool()
	for _, c := range srv.TLS.Certificates {
		roots, err := x509.ParseCertificates(c.Certificate[len(c.Certificate)-1])
		if err != nil {
			return nil, err
		}
		for _, root := range roots {
			certs.AddCert(root)
		}
	}
	return &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs: certs,
		},
	}, nil
}
