package pki

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// WriteCertPEM writes cert's leaf certificate to path as a PEM-encoded
// CERTIFICATE block, matching the --ca-cert/--server-cert/--client-cert
// flag formats §6 expects.
func WriteCertPEM(cert *tls.Certificate, path string) error {
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Certificate[0],
	})
	if err := os.WriteFile(path, certPEM, 0644); err != nil {
		return fmt.Errorf("write certificate %s: %w", path, err)
	}
	return nil
}

// WriteKeyPEM writes cert's RSA private key to path as a PEM-encoded
// RSA PRIVATE KEY block.
func WriteKeyPEM(cert *tls.Certificate, path string) error {
	privateKey, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(path, keyPEM, 0600); err != nil {
		return fmt.Errorf("write private key %s: %w", path, err)
	}
	return nil
}

// WriteRootPEM writes the CA's root certificate to path as a
// PEM-encoded CERTIFICATE block.
func WriteRootPEM(ca *CA, path string) error {
	der := ca.RootPEM()
	if der == nil {
		return fmt.Errorf("pki: CA not initialized")
	}
	rootPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, rootPEM, 0644); err != nil {
		return fmt.Errorf("write root certificate %s: %w", path, err)
	}
	return nil
}
