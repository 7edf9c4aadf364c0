package signer

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/laniot/laniot-signer/pkg/ca"
)

var ErrIntermediateCA = errors.New("signer: intermediate CA unavailable")

// IntermediateCA is the normalized certificate and key pair every leaf is
// signed with. It is built once at startup, never mutated and shared by all
// concurrent signing calls without locking. Accessors return copies.
type IntermediateCA struct {
	certPEM []byte
	keyPEM  []byte
	cert    *x509.Certificate
}

// LoadIntermediateCA normalizes raw CA material and verifies the private
// key belongs to the certificate. keyPassword decrypts an encrypted PKCS #8
// key for the match check and may be nil.
func LoadIntermediateCA(normalizer Normalizer, certRaw, keyRaw string, keyPassword []byte) (*IntermediateCA, error) {
	if certRaw == "" || keyRaw == "" {
		return nil, fmt.Errorf("%w: certificate and key are required", ErrIntermediateCA)
	}
	certPEM, err := normalizer.Normalize(certRaw, ca.KindCert)
	if err != nil {
		return nil, fmt.Errorf("%w: intermediate certificate: %w", ErrNormalization, err)
	}
	keyPEM, err := normalizer.Normalize(keyRaw, ca.KindKey)
	if err != nil {
		return nil, fmt.Errorf("%w: intermediate key: %w", ErrNormalization, err)
	}
	cert, err := ca.DecodePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntermediateCA, err)
	}
	key, err := ca.DecodePrivateKey(keyPEM, keyPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntermediateCA, err)
	}
	if err := ca.KeyMatchesCertificate(key, cert); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntermediateCA, err)
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("%w: %s is not a CA certificate", ErrIntermediateCA, cert.Subject)
	}
	return &IntermediateCA{
		certPEM: certPEM,
		keyPEM:  keyPEM,
		cert:    cert,
	}, nil
}

func (ica *IntermediateCA) CertPEM() []byte {
	return append([]byte(nil), ica.certPEM...)
}

func (ica *IntermediateCA) KeyPEM() []byte {
	return append([]byte(nil), ica.keyPEM...)
}

// Returns a copy of the parsed intermediate certificate
func (ica *IntermediateCA) Certificate() *x509.Certificate {
	cert, _ := x509.ParseCertificate(ica.cert.Raw)
	return cert
}

func (ica *IntermediateCA) Subject() string {
	return ica.cert.Subject.String()
}
