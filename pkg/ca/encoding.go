package ca

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

const (
	PEMTypeCertificate         = "CERTIFICATE"
	PEMTypeCertificateRequest  = "CERTIFICATE REQUEST"
	PEMTypePrivateKey          = "PRIVATE KEY"
	PEMTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	PEMTypeECPrivateKey        = "EC PRIVATE KEY"
	PEMTypeRSAPrivateKey       = "RSA PRIVATE KEY"
)

// Encodes a raw DER byte array as a PEM byte array
func EncodePEM(derCert []byte) ([]byte, error) {
	return encodeBlock(PEMTypeCertificate, derCert)
}

// Decodes PEM bytes to *x509.Certificate
func DecodePEM(bytes []byte) (*x509.Certificate, error) {
	var block *pem.Block
	if block, _ = pem.Decode(bytes); block == nil {
		return nil, ErrInvalidEncodingPEM
	}
	if block.Type != PEMTypeCertificate {
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrInvalidEncodingPEM, block.Type)
	}
	return x509.ParseCertificate(block.Bytes)
}

// Encodes a Certificate Signing Request to PEM form
func EncodeCSR(csr []byte) ([]byte, error) {
	return encodeBlock(PEMTypeCertificateRequest, csr)
}

// Decodes CSR bytes to x509.CertificateRequest
func DecodeCSR(bytes []byte) (*x509.CertificateRequest, error) {
	var block *pem.Block
	if block, _ = pem.Decode(bytes); block == nil {
		return nil, ErrInvalidEncodingPEM
	}
	return x509.ParseCertificateRequest(block.Bytes)
}

// Decodes a PEM certificate chain, ignoring non-certificate blocks
func DecodePEMChain(bytes []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for block, rest := pem.Decode(bytes); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != PEMTypeCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrInvalidEncodingPEM
	}
	return certs, nil
}

// Encodes an ECDSA private key as a SEC 1 "EC PRIVATE KEY" PEM block
func EncodeECPrivateKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return encodeBlock(PEMTypeECPrivateKey, der)
}

// Decodes the first PEM block of a private key. PKCS #8 (optionally
// encrypted with password), SEC 1 EC and PKCS #1 RSA blocks are supported.
func DecodePrivateKey(pemBytes, password []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidEncodingPEM
	}

	var key any
	var err error
	switch block.Type {
	case PEMTypePrivateKey:
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	case PEMTypeEncryptedPrivateKey:
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
	case PEMTypeECPrivateKey:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case PEMTypeRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrInvalidEncodingPEM, block.Type)
	}
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if rsaKey, ok := signer.(*rsa.PrivateKey); ok {
		if err := rsaKey.Validate(); err != nil {
			return nil, err
		}
	}
	return signer, nil
}

// Returns true if the bytes structurally look like DER: an ASN.1 SEQUENCE
// tag followed by a long-form length byte.
func IsDER(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x30 && data[1]&0x80 == 0x80
}

func encodeBlock(blockType string, der []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := pem.Encode(buf, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
