// Package transport provides the mTLS-wrapped network layer shared by
// Disco's gRPC services and its raft.StreamLayer: certificate loading,
// a cached dialer with jittered backoff, and a net.Listener that
// enforces mutual TLS.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSFiles names the PEM files a node or client loads certificates
// from. Certificate *issuance* lives in pkg/pki (disco cert init/issue)
// or an external CA; this package only ever loads them.
type TLSFiles struct {
	CACert     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// LoadClientTLS builds a tls.Config suitable for dialing a Disco peer:
// the CA cert pool used to verify the server, plus this node's own
// certificate for the server to verify in return.
func LoadClientTLS(files TLSFiles) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.ClientCert, files.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("transport: load client cert pair: %w", err)
	}
	pool, err := loadCAPool(files.CACert)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// LoadServerTLS builds a tls.Config for accepting connections: the
// node's own certificate, plus the CA pool used to verify callers.
// Disco requires client certs (unlike the teacher, which requests but
// doesn't require them, leaving per-RPC checks to handlers) because
// every RPC surface here, including joins, is internal cluster traffic.
func LoadServerTLS(files TLSFiles) (*tls.Config, error) {
	certFile, keyFile := files.ServerCert, files.ServerKey
	if certFile == "" && keyFile == "" {
		certFile, keyFile = files.ClientCert, files.ClientKey
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load server cert pair: %w", err)
	}
	pool, err := loadCAPool(files.CACert)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transport: read CA cert %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(buf) {
		return nil, fmt.Errorf("transport: no certificates parsed from %s", path)
	}
	return pool, nil
}
