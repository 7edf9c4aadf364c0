// Package catest builds throwaway root and intermediate certificate
// authorities for tests.
package catest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

type Algorithm int

const (
	ECDSA Algorithm = iota
	RSA
)

// Authority is a test intermediate CA issued by a throwaway root
type Authority struct {
	Root     *x509.Certificate
	Cert     *x509.Certificate
	Key      crypto.Signer
	CertDER  []byte
	CertPEM  []byte
	KeyPEM   []byte
	PKCS8DER []byte
	// SEC 1 for ECDSA, PKCS #1 for RSA
	KeyDER []byte
}

// Returns a P-256 intermediate signed by a P-256 root
func NewAuthority(t testing.TB) *Authority {
	return NewAuthorityWithAlgorithm(t, ECDSA)
}

func NewAuthorityWithAlgorithm(t testing.TB, algorithm Algorithm) *Authority {
	t.Helper()

	rootKey := newKey(t, algorithm)
	now := time.Now()
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "LanIoT Test Root CA", Organization: []string{"LanIoT"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, rootKey.Public(), rootKey)
	check(t, err)
	root, err := x509.ParseCertificate(rootDER)
	check(t, err)

	key := newKey(t, algorithm)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "LanIoT Test Intermediate CA", Organization: []string{"LanIoT"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(5, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, root, key.Public(), rootKey)
	check(t, err)
	cert, err := x509.ParseCertificate(certDER)
	check(t, err)

	pkcs8DER, err := x509.MarshalPKCS8PrivateKey(key)
	check(t, err)

	authority := &Authority{
		Root:     root,
		Cert:     cert,
		Key:      key,
		CertDER:  certDER,
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		PKCS8DER: pkcs8DER,
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		authority.KeyDER, err = x509.MarshalECPrivateKey(k)
		check(t, err)
		authority.KeyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: authority.KeyDER})
	case *rsa.PrivateKey:
		authority.KeyDER = x509.MarshalPKCS1PrivateKey(k)
		authority.KeyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: authority.KeyDER})
	}
	return authority
}

// Returns a verification pool containing only the root
func (a *Authority) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.Root)
	return pool
}

// Returns a pool containing only the intermediate
func (a *Authority) Intermediates() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.Cert)
	return pool
}

func newKey(t testing.TB, algorithm Algorithm) crypto.Signer {
	switch algorithm {
	case RSA:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		check(t, err)
		return key
	default:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		check(t, err)
		return key
	}
}

func check(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
