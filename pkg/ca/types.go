package ca

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies what a piece of secret material is expected to hold
type Kind string

const (
	KindCert Kind = "cert"
	KindKey  Kind = "key"
)

var (
	ErrConversion  = errors.New("certificate-authority: DER to PEM conversion failed")
	ErrValidation  = errors.New("certificate-authority: PEM validation failed")
	ErrSigning     = errors.New("certificate-authority: signing failed")
	ErrInvalidKind = errors.New("certificate-authority: invalid material kind")

	ErrInvalidEncodingPEM = errors.New("certificate-authority: invalid PEM encoding")
	ErrUnsupportedKey     = errors.New("certificate-authority: unsupported private key type")
	ErrKeyMismatch        = errors.New("certificate-authority: private key does not match certificate")
	ErrInvalidSAN         = errors.New("certificate-authority: invalid subject alternative name")
	ErrInvalidValidity    = errors.New("certificate-authority: invalid validity period")
)

func ParseKind(kind string) (Kind, error) {
	switch Kind(strings.ToLower(kind)) {
	case KindCert:
		return KindCert, nil
	case KindKey:
		return KindKey, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
}
