// Package pki manages the cluster's own certificate authority, so a
// fresh cluster can bootstrap its mTLS certificates (§6's --ca-cert,
// --server-cert/--server-key, --client-cert/--client-key) without an
// operator shelling out to openssl first.
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

// CA manages a single cluster's root certificate and issues leaf
// certificates for nodes and clients.
type CA struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	store    Store
	mu       sync.RWMutex
}

// caData is the serialized form persisted through Store.
type caData struct {
	RootCertDER []byte
	RootKeyDER  []byte
}

const (
	rootCAValidity = 10 * 365 * 24 * time.Hour
	leafValidity   = 90 * 24 * time.Hour
	rootKeySize    = 4096
	leafKeySize    = 2048
)

// NewCA wraps store for CA persistence. Call Init for a brand new
// cluster or Load to resume from a previously initialized one.
func NewCA(store Store) *CA {
	return &CA{store: store}
}

// Init generates a new self-signed root certificate and key.
func (ca *CA) Init() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Disco Cluster"},
			CommonName:   "Disco Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// Save persists the CA's root certificate and key, encrypted with key
// (typically DeriveKey(clusterID)), to the backing store.
func (ca *CA) Save(key []byte) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("pki: CA not initialized")
	}

	encryptedKey, err := Encrypt(key, x509.MarshalPKCS1PrivateKey(ca.rootKey))
	if err != nil {
		return fmt.Errorf("encrypt root key: %w", err)
	}

	data, err := json.Marshal(caData{RootCertDER: ca.rootCert.Raw, RootKeyDER: encryptedKey})
	if err != nil {
		return fmt.Errorf("marshal CA data: %w", err)
	}
	return ca.store.SaveCA(data)
}

// Load restores the CA's root certificate and key from the backing
// store, decrypting the key with key.
func (ca *CA) Load(key []byte) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	raw, err := ca.store.GetCA()
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	var cd caData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return fmt.Errorf("unmarshal CA data: %w", err)
	}

	rootKeyDER, err := Decrypt(key, cd.RootKeyDER)
	if err != nil {
		return fmt.Errorf("decrypt root key: %w", err)
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(rootKeyDER)
	if err != nil {
		return fmt.Errorf("parse root key: %w", err)
	}
	rootCert, err := x509.ParseCertificate(cd.RootCertDER)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// IssueServer issues a server-and-client-auth leaf certificate for a
// node, valid for the given DNS names and IPs -- covers both the
// gRPC listener and the raft peer transport, which share one cert.
func (ca *CA) IssueServer(commonName string, dnsNames []string, ips []net.IP) (*tls.Certificate, error) {
	return ca.issue(commonName, dnsNames, ips, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth})
}

// IssueClient issues a client-auth-only leaf certificate for the CLI
// or test harness.
func (ca *CA) IssueClient(commonName string) (*tls.Certificate, error) {
	return ca.issue(commonName, nil, nil, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
}

func (ca *CA) issue(commonName string, dnsNames []string, ips []net.IP, usage []x509.ExtKeyUsage) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("pki: CA not initialized")
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"Disco Cluster"}, CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  usage,
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &leafKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("create leaf certificate: %w", err)
	}
	leafCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}

	return &tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: leafKey, Leaf: leafCert}, nil
}

// RootPEM returns the root certificate's DER bytes, ready for
// pem.Encode with Type "CERTIFICATE".
func (ca *CA) RootPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}
