package ca

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/youmark/pkcs8"

	"github.com/laniot/laniot-signer/pkg/ca/catest"
	"github.com/laniot/laniot-signer/pkg/logging"
)

func newTestOperations(fc clock.Clock) *NativeOperations {
	return NewNativeOperations(&Params{
		Logger: logging.DefaultLogger(),
		Clock:  fc,
	})
}

func Test_SanitizeIP(t *testing.T) {
	cases := map[string]string{
		"192.168.1.5":        "192.168.1.5",
		"10.0.0.1;rm -rf":    "10.0.0.1",
		" 10.0.0.2\n":        "10.0.0.2",
		"fe80::1":            "801",
		"$(reboot)127.0.0.1": "127.0.0.1",
	}
	for in, expected := range cases {
		assert.Equal(t, expected, SanitizeIP(in), in)
	}
}

func Test_SanitizeDNS(t *testing.T) {
	cases := map[string]string{
		"dev123.local":          "dev123.local",
		"dev once.exa$mple.com": "devonce.example.com",
		"a_b.local":             "ab.local",
		"my-device.lan":         "my-device.lan",
		"\n[alt_names]\nDNS.9=": "altnamesDNS.9",
		"$;":                    "",
	}
	for in, expected := range cases {
		assert.Equal(t, expected, SanitizeDNS(in), in)
	}
}

func Test_Extensions_DNSOmittedWhenEmpty(t *testing.T) {
	ext := NewExtensions("192.168.1.5", "$$$")
	assert.Equal(t, []string{"192.168.1.5"}, ext.IPAddresses)
	assert.Empty(t, ext.DNSNames)

	ips, dnsNames, err := ext.SANs()
	assert.Nil(t, err)
	assert.Len(t, ips, 1)
	assert.Empty(t, dnsNames)
}

func Test_Extensions_Config(t *testing.T) {
	ext := NewExtensions("10.0.0.1;rm -rf /", "dev once.exa$mple.com")
	expected := "basicConstraints=CA:FALSE\n" +
		"keyUsage=digitalSignature,keyEncipherment\n" +
		"extendedKeyUsage=serverAuth\n" +
		"subjectAltName=@alt_names\n" +
		"[alt_names]\n" +
		"IP.1=10.0.0.1\n" +
		"DNS.1=devonce.example.com"
	assert.Equal(t, expected, ext.Config())
}

func Test_Extensions_InvalidIP(t *testing.T) {
	ext := NewExtensions("999.1.1.1", "")
	_, _, err := ext.SANs()
	assert.True(t, errors.Is(err, ErrInvalidSAN))

	ext = NewExtensions("", "")
	_, _, err = ext.SANs()
	assert.True(t, errors.Is(err, ErrInvalidSAN))
}

func Test_IsDER(t *testing.T) {
	assert.True(t, IsDER([]byte{0x30, 0x82, 0x01, 0x0a}))
	assert.True(t, IsDER([]byte{0x30, 0x81, 0x87}))
	assert.False(t, IsDER([]byte{0x30, 0x0a}))
	assert.False(t, IsDER([]byte{0x31, 0x82}))
	assert.False(t, IsDER([]byte{0x30}))
	assert.False(t, IsDER([]byte("-----BEGIN CERTIFICATE-----")))

	authority := catest.NewAuthority(t)
	assert.True(t, IsDER(authority.CertDER))
}

func Test_ParseKind(t *testing.T) {
	kind, err := ParseKind("CERT")
	assert.Nil(t, err)
	assert.Equal(t, KindCert, kind)

	kind, err = ParseKind("key")
	assert.Nil(t, err)
	assert.Equal(t, KindKey, kind)

	_, err = ParseKind("csr")
	assert.True(t, errors.Is(err, ErrInvalidKind))
}

func Test_ConvertDERToPEM_Certificate(t *testing.T) {
	authority := catest.NewAuthority(t)
	ops := newTestOperations(nil)

	pemBytes, err := ops.ConvertDERToPEM(authority.CertDER, KindCert)
	assert.Nil(t, err)
	assert.Equal(t, authority.CertPEM, pemBytes)
	assert.Nil(t, ops.Validate(pemBytes, KindCert))
}

func Test_ConvertDERToPEM_Keys(t *testing.T) {
	ecAuthority := catest.NewAuthority(t)
	rsaAuthority := catest.NewAuthorityWithAlgorithm(t, catest.RSA)
	ops := newTestOperations(nil)

	tests := []struct {
		name      string
		der       []byte
		blockType string
	}{
		{"pkcs8-ecdsa", ecAuthority.PKCS8DER, PEMTypePrivateKey},
		{"pkcs8-rsa", rsaAuthority.PKCS8DER, PEMTypePrivateKey},
		{"sec1", ecAuthority.KeyDER, PEMTypeECPrivateKey},
		{"pkcs1", rsaAuthority.KeyDER, PEMTypeRSAPrivateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pemBytes, err := ops.ConvertDERToPEM(tt.der, KindKey)
			assert.Nil(t, err)

			block, _ := pem.Decode(pemBytes)
			assert.NotNil(t, block)
			assert.Equal(t, tt.blockType, block.Type)
			assert.Nil(t, ops.Validate(pemBytes, KindKey))
		})
	}
}

func Test_ConvertDERToPEM_EncryptedPKCS8(t *testing.T) {
	authority := catest.NewAuthority(t)
	password := []byte("intermediate-secret")

	encrypted, err := pkcs8.ConvertPrivateKeyToPKCS8(authority.Key, password)
	assert.Nil(t, err)

	// Without the password every candidate fails
	_, err = newTestOperations(nil).ConvertDERToPEM(encrypted, KindKey)
	assert.True(t, errors.Is(err, ErrConversion))

	ops := NewNativeOperations(&Params{KeyPassword: password})
	pemBytes, err := ops.ConvertDERToPEM(encrypted, KindKey)
	assert.Nil(t, err)

	key, err := DecodePrivateKey(pemBytes, nil)
	assert.Nil(t, err)
	assert.Nil(t, KeyMatchesCertificate(key, authority.Cert))
}

func Test_ConvertDERToPEM_Garbage(t *testing.T) {
	ops := newTestOperations(nil)
	garbage := []byte{0x30, 0x82, 0x00, 0x04, 0xde, 0xad, 0xbe, 0xef}

	_, err := ops.ConvertDERToPEM(garbage, KindCert)
	assert.True(t, errors.Is(err, ErrConversion))

	_, err = ops.ConvertDERToPEM(garbage, KindKey)
	assert.True(t, errors.Is(err, ErrConversion))
	// Every attempted format is reported
	assert.Contains(t, err.Error(), "pkey:")
	assert.Contains(t, err.Error(), "ec:")
	assert.Contains(t, err.Error(), "rsa:")

	_, err = ops.ConvertDERToPEM(garbage, Kind("csr"))
	assert.True(t, errors.Is(err, ErrConversion))
}

func Test_Validate(t *testing.T) {
	authority := catest.NewAuthority(t)
	ops := newTestOperations(nil)

	assert.Nil(t, ops.Validate(authority.CertPEM, KindCert))
	assert.Nil(t, ops.Validate(authority.KeyPEM, KindKey))

	// Kinds are not interchangeable
	assert.True(t, errors.Is(ops.Validate(authority.KeyPEM, KindCert), ErrValidation))
	assert.True(t, errors.Is(ops.Validate(authority.CertPEM, KindKey), ErrValidation))

	corrupt := []byte("-----BEGIN CERTIFICATE-----\nMIIBkTCB+wIJAK\n-----END CERTIFICATE-----\n")
	assert.True(t, errors.Is(ops.Validate(corrupt, KindCert), ErrValidation))
	assert.True(t, errors.Is(ops.Validate([]byte("hello"), KindKey), ErrValidation))
}

func Test_GenerateKeyPair_CreateCSR(t *testing.T) {
	ops := newTestOperations(nil)

	keyPEM, err := ops.GenerateKeyPair(nil)
	assert.Nil(t, err)

	block, _ := pem.Decode(keyPEM)
	assert.Equal(t, PEMTypeECPrivateKey, block.Type)
	key, err := x509.ParseECPrivateKey(block.Bytes)
	assert.Nil(t, err)
	assert.Equal(t, "P-256", key.Curve.Params().Name)

	csrPEM, err := ops.CreateCSR(keyPEM, "dev-123")
	assert.Nil(t, err)
	csr, err := DecodeCSR(csrPEM)
	assert.Nil(t, err)
	assert.Nil(t, csr.CheckSignature())
	assert.Equal(t, "CN=dev-123", csr.Subject.String())
	assert.Empty(t, csr.Extensions)
	assert.True(t, key.PublicKey.Equal(csr.PublicKey))
}

func Test_SignCertificate(t *testing.T) {
	for _, algorithm := range []catest.Algorithm{catest.ECDSA, catest.RSA} {
		authority := catest.NewAuthorityWithAlgorithm(t, algorithm)

		fc := clock.NewFake()
		fc.Set(time.Now().Truncate(time.Second))
		ops := newTestOperations(fc)

		keyPEM, err := ops.GenerateKeyPair(nil)
		assert.Nil(t, err)
		csrPEM, err := ops.CreateCSR(keyPEM, "dev-123")
		assert.Nil(t, err)

		certPEM, err := ops.SignCertificate(
			csrPEM, authority.CertPEM, authority.KeyPEM, 30,
			NewExtensions("192.168.1.5", "dev123.local"))
		assert.Nil(t, err)

		leaf, err := DecodePEM(certPEM)
		assert.Nil(t, err)
		assert.Equal(t, "dev-123", leaf.Subject.CommonName)
		assert.Equal(t, authority.Cert.Subject.String(), leaf.Issuer.String())
		assert.True(t, leaf.NotBefore.Equal(fc.Now()))
		assert.True(t, leaf.NotAfter.Equal(fc.Now().AddDate(0, 0, 30)))
		assert.True(t, leaf.BasicConstraintsValid)
		assert.False(t, leaf.IsCA)
		assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, leaf.KeyUsage)
		assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, leaf.ExtKeyUsage)
		assert.Equal(t, []string{"dev123.local"}, leaf.DNSNames)
		assert.Len(t, leaf.IPAddresses, 1)
		assert.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("192.168.1.5")))
		assert.Equal(t, 1, leaf.SerialNumber.Sign())

		key, err := DecodePrivateKey(keyPEM, nil)
		assert.Nil(t, err)
		assert.True(t, key.Public().(*ecdsa.PublicKey).Equal(leaf.PublicKey))

		_, err = leaf.Verify(x509.VerifyOptions{
			Roots:         authority.Roots(),
			Intermediates: authority.Intermediates(),
			DNSName:       "dev123.local",
			CurrentTime:   fc.Now().Add(time.Minute),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		assert.Nil(t, err)
	}
}

func Test_SignCertificate_Errors(t *testing.T) {
	authority := catest.NewAuthority(t)
	other := catest.NewAuthority(t)
	ops := newTestOperations(nil)

	keyPEM, err := ops.GenerateKeyPair(nil)
	assert.Nil(t, err)
	csrPEM, err := ops.CreateCSR(keyPEM, "dev-123")
	assert.Nil(t, err)
	ext := NewExtensions("192.168.1.5", "")

	// Key belongs to a different CA
	_, err = ops.SignCertificate(csrPEM, authority.CertPEM, other.KeyPEM, 7, ext)
	assert.True(t, errors.Is(err, ErrSigning))
	assert.Contains(t, err.Error(), ErrKeyMismatch.Error())

	_, err = ops.SignCertificate(csrPEM, authority.CertPEM, authority.KeyPEM, 0, ext)
	assert.True(t, errors.Is(err, ErrSigning))

	_, err = ops.SignCertificate([]byte("not a csr"), authority.CertPEM, authority.KeyPEM, 7, ext)
	assert.True(t, errors.Is(err, ErrSigning))

	_, err = ops.SignCertificate(csrPEM, []byte("bad"), authority.KeyPEM, 7, ext)
	assert.True(t, errors.Is(err, ErrSigning))

	_, err = ops.SignCertificate(csrPEM, authority.CertPEM, authority.KeyPEM, 7, NewExtensions("x", ""))
	assert.True(t, errors.Is(err, ErrSigning))
}

func Test_SignCertificate_Linted(t *testing.T) {
	authority := catest.NewAuthority(t)
	linter, err := NewLinter(logging.DefaultLogger(), nil)
	assert.Nil(t, err)

	ops := NewNativeOperations(&Params{Linter: linter})
	keyPEM, err := ops.GenerateKeyPair(nil)
	assert.Nil(t, err)
	csrPEM, err := ops.CreateCSR(keyPEM, "dev-123")
	assert.Nil(t, err)

	certPEM, err := ops.SignCertificate(csrPEM, authority.CertPEM, authority.KeyPEM, 7,
		NewExtensions("192.168.1.5", "dev123.local"))
	assert.Nil(t, err)

	leaf, err := DecodePEM(certPEM)
	assert.Nil(t, err)
	_, err = linter.Lint(leaf.Raw)
	assert.Nil(t, err)

	_, err = linter.Lint([]byte{0x30, 0x00})
	assert.True(t, errors.Is(err, ErrLinting))
}

func Test_DecodePEMChain(t *testing.T) {
	authority := catest.NewAuthority(t)
	rootPEM := pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: authority.Root.Raw})

	chain := append(append(append([]byte{}, authority.CertPEM...), authority.KeyPEM...), rootPEM...)
	certs, err := DecodePEMChain(chain)
	assert.Nil(t, err)
	assert.Len(t, certs, 2)
	assert.Equal(t, authority.Cert.Raw, certs[0].Raw)

	_, err = DecodePEMChain(authority.KeyPEM)
	assert.True(t, errors.Is(err, ErrInvalidEncodingPEM))
}

func Test_X509SerialsAreUnique(t *testing.T) {
	authority := catest.NewAuthority(t)
	ops := NewNativeOperations(&Params{Random: rand.Reader})
	keyPEM, _ := ops.GenerateKeyPair(nil)
	csrPEM, _ := ops.CreateCSR(keyPEM, "dev-123")

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		certPEM, err := ops.SignCertificate(csrPEM, authority.CertPEM, authority.KeyPEM, 1,
			NewExtensions("10.0.0.1", ""))
		assert.Nil(t, err)
		leaf, err := DecodePEM(certPEM)
		assert.Nil(t, err)
		assert.False(t, seen[leaf.SerialNumber.String()])
		seen[leaf.SerialNumber.String()] = true
	}
}
