package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"

	"github.com/jmhodges/clock"
	"github.com/youmark/pkcs8"

	"github.com/laniot/laniot-signer/pkg/logging"
	"github.com/laniot/laniot-signer/pkg/util"
)

// Operations is the set of cryptographic primitives the leaf signing
// pipeline needs. All inputs and outputs are PEM encoded unless noted.
type Operations interface {
	// Generates a new ECDSA private key on the given curve (P-256 when nil)
	GenerateKeyPair(curve elliptic.Curve) ([]byte, error)
	// Creates a CSR whose subject is exactly CN=commonName, with no extensions
	CreateCSR(privateKeyPEM []byte, commonName string) ([]byte, error)
	// Signs a CSR with the CA, producing a leaf certificate
	SignCertificate(csrPEM, caCertPEM, caKeyPEM []byte, validityDays int, extensions *Extensions) ([]byte, error)
	// Converts DER encoded material of the given kind to PEM
	ConvertDERToPEM(der []byte, kind Kind) ([]byte, error)
	// Structurally validates PEM encoded material of the given kind
	Validate(pemBytes []byte, kind Kind) error
}

type Params struct {
	Logger *logging.Logger
	Clock  clock.Clock
	Random io.Reader
	// Optional password for encrypted PKCS #8 CA keys
	KeyPassword []byte
	// Optional issuance linter
	Linter *Linter
}

// NativeOperations implements Operations with the Go crypto libraries
type NativeOperations struct {
	logger      *logging.Logger
	clock       clock.Clock
	random      io.Reader
	keyPassword []byte
	linter      *Linter
}

// A named DER private key decoder, tried in order during conversion
type keyConversion struct {
	name    string
	convert func(der, password []byte) ([]byte, error)
}

var keyConversions = []keyConversion{
	{name: "pkey", convert: convertPKCS8},
	{name: "ec", convert: convertEC},
	{name: "rsa", convert: convertRSA},
}

func NewNativeOperations(params *Params) *NativeOperations {
	ops := &NativeOperations{
		logger:      params.Logger,
		clock:       params.Clock,
		random:      params.Random,
		keyPassword: params.KeyPassword,
		linter:      params.Linter,
	}
	if ops.logger == nil {
		ops.logger = logging.DefaultLogger()
	}
	if ops.clock == nil {
		ops.clock = clock.New()
	}
	if ops.random == nil {
		ops.random = rand.Reader
	}
	return ops
}

func (ops *NativeOperations) GenerateKeyPair(curve elliptic.Curve) ([]byte, error) {
	if curve == nil {
		curve = elliptic.P256()
	}
	key, err := ecdsa.GenerateKey(curve, ops.random)
	if err != nil {
		return nil, fmt.Errorf("%w: key generation: %s", ErrSigning, err)
	}
	keyPEM, err := EncodeECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: key encoding: %s", ErrSigning, err)
	}
	return keyPEM, nil
}

func (ops *NativeOperations) CreateCSR(privateKeyPEM []byte, commonName string) ([]byte, error) {
	key, err := DecodePrivateKey(privateKeyPEM, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSigning, err)
	}
	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: commonName},
		SignatureAlgorithm: signatureAlgorithm(key.Public()),
	}
	csrDER, err := x509.CreateCertificateRequest(ops.random, template, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSigning, err)
	}
	return EncodeCSR(csrDER)
}

func (ops *NativeOperations) SignCertificate(
	csrPEM, caCertPEM, caKeyPEM []byte,
	validityDays int,
	extensions *Extensions) ([]byte, error) {

	if validityDays < 1 {
		return nil, fmt.Errorf("%w: %s: %d days", ErrSigning, ErrInvalidValidity, validityDays)
	}
	if extensions == nil {
		return nil, fmt.Errorf("%w: %s: missing extensions", ErrSigning, ErrInvalidSAN)
	}

	csr, err := DecodeCSR(csrPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: csr: %s", ErrSigning, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: csr: %s", ErrSigning, err)
	}

	caCert, err := DecodePEM(caCertPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: ca certificate: %s", ErrSigning, err)
	}
	caKey, err := DecodePrivateKey(caKeyPEM, ops.keyPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: ca key: %s", ErrSigning, err)
	}
	if err := KeyMatchesCertificate(caKey, caCert); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSigning, err)
	}

	ipAddresses, dnsNames, err := extensions.SANs()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSigning, err)
	}

	serialNumber, err := util.X509SerialNumber(ops.random)
	if err != nil {
		return nil, fmt.Errorf("%w: serial number: %s", ErrSigning, err)
	}

	now := ops.clock.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		RawSubject:            csr.RawSubject,
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validityDays),
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           ipAddresses,
		DNSNames:              dnsNames,
		SignatureAlgorithm:    signatureAlgorithm(caKey.Public()),
	}

	ops.logger.Debug("signing leaf certificate",
		"cn", csr.Subject.CommonName,
		"serial", serialNumber.String(),
		"issuer", caCert.Subject.CommonName,
		"days", validityDays)

	derBytes, err := x509.CreateCertificate(
		ops.random, template, caCert, csr.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSigning, err)
	}

	if ops.linter != nil {
		ops.linter.Report(derBytes)
	}

	return EncodePEM(derBytes)
}

func (ops *NativeOperations) ConvertDERToPEM(der []byte, kind Kind) ([]byte, error) {
	switch kind {
	case KindCert:
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: x509: %w", ErrConversion, err)
		}
		return EncodePEM(cert.Raw)
	case KindKey:
		errs := make([]error, 0, len(keyConversions))
		for _, conversion := range keyConversions {
			pemBytes, err := conversion.convert(der, ops.keyPassword)
			if err == nil {
				ops.logger.Debug("converted DER private key", "format", conversion.name)
				return pemBytes, nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", conversion.name, err))
		}
		return nil, fmt.Errorf("%w: %w", ErrConversion, errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w: %s", ErrConversion, ErrInvalidKind)
}

func (ops *NativeOperations) Validate(pemBytes []byte, kind Kind) error {
	switch kind {
	case KindCert:
		cert, err := DecodePEM(pemBytes)
		if err != nil {
			return fmt.Errorf("%w: certificate: %w", ErrValidation, err)
		}
		if len(cert.RawSubject) == 0 {
			return fmt.Errorf("%w: certificate has no subject", ErrValidation)
		}
		ops.logger.Debug("validated certificate", "subject", cert.Subject.String())
		return nil
	case KindKey:
		if _, err := DecodePrivateKey(pemBytes, ops.keyPassword); err != nil {
			return fmt.Errorf("%w: private key: %w", ErrValidation, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, ErrInvalidKind)
}

// Returns ErrKeyMismatch unless the private key belongs to the certificate
func KeyMatchesCertificate(key crypto.Signer, cert *x509.Certificate) error {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

func signatureAlgorithm(pub crypto.PublicKey) x509.SignatureAlgorithm {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256
	case *rsa.PublicKey:
		return x509.SHA256WithRSA
	case ed25519.PublicKey:
		return x509.PureEd25519
	}
	return x509.UnknownSignatureAlgorithm
}

// Unencrypted PKCS #8 first, then encrypted when a password is configured
func convertPKCS8(der, password []byte) ([]byte, error) {
	key, err := pkcs8.ParsePKCS8PrivateKey(der)
	if err != nil && len(password) > 0 {
		key, err = pkcs8.ParsePKCS8PrivateKey(der, password)
	}
	if err != nil {
		return nil, err
	}
	pkcs8DER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return encodeBlock(PEMTypePrivateKey, pkcs8DER)
}

func convertEC(der, _ []byte) ([]byte, error) {
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, err
	}
	return EncodeECPrivateKey(key)
}

func convertRSA(der, _ []byte) ([]byte, error) {
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, err
	}
	return encodeBlock(PEMTypeRSAPrivateKey, x509.MarshalPKCS1PrivateKey(key))
}
