// Package secret turns certificate and key material supplied in loosely
// specified encodings (PEM, escaped or quoted PEM, base64, base64url, DER
// or a file path) into canonical PEM.
package secret

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/laniot/laniot-signer/pkg/ca"
	"github.com/laniot/laniot-signer/pkg/logging"
)

var (
	ErrFormat   = errors.New("secret: not PEM, not valid DER")
	ErrPathRead = errors.New("secret: unable to read file")
)

// Scratch receives the normalized PEM and any transient DER artifact.
// *workspace.Workspace satisfies it.
type Scratch interface {
	WriteFile(name string, data []byte) error
	Remove(name string) error
}

type Params struct {
	Logger     *logging.Logger
	Fs         afero.Fs
	Operations ca.Operations
}

type Normalizer struct {
	logger *logging.Logger
	fs     afero.Fs
	ops    ca.Operations
}

func NewNormalizer(params *Params) *Normalizer {
	n := &Normalizer{
		logger: params.Logger,
		fs:     params.Fs,
		ops:    params.Operations,
	}
	if n.logger == nil {
		n.logger = logging.DefaultLogger()
	}
	if n.fs == nil {
		n.fs = afero.NewOsFs()
	}
	if n.ops == nil {
		n.ops = ca.NewNativeOperations(&ca.Params{Logger: n.logger})
	}
	return n
}

// Normalize converts raw material of the given kind to validated, canonical PEM
func (n *Normalizer) Normalize(raw string, kind ca.Kind) ([]byte, error) {
	return n.normalize(nil, "", raw, kind)
}

// NormalizeTo behaves like Normalize and also writes the canonical PEM to
// scratch as name. DER input is staged as name+".der" for the duration of
// the conversion.
func (n *Normalizer) NormalizeTo(scratch Scratch, name, raw string, kind ca.Kind) ([]byte, error) {
	pemBytes, err := n.normalize(scratch, name, raw, kind)
	if err != nil {
		return nil, err
	}
	if err := scratch.WriteFile(name, pemBytes); err != nil {
		return nil, err
	}
	return pemBytes, nil
}

func (n *Normalizer) normalize(scratch Scratch, name, raw string, kind ca.Kind) ([]byte, error) {
	if kind != ca.KindCert && kind != ca.KindKey {
		return nil, fmt.Errorf("%w: %q", ca.ErrInvalidKind, kind)
	}

	candidate := Clean(raw)

	if LooksLikePath(candidate) {
		n.logger.Debug("reading secret from file", "kind", string(kind), "path", candidate)
		content, err := afero.ReadFile(n.fs, candidate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %s", ErrPathRead, kind, candidate, err)
		}
		if ca.IsDER(content) {
			return n.fromDER(scratch, name, content, kind)
		}
		candidate = strings.TrimSpace(string(content))
	}

	if ContainsPEM(candidate) {
		return n.validate(RepairPEM(candidate), kind)
	}

	decoded, err := DecodeBase64(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s: content is not valid base64 or PEM", ErrFormat, kind)
	}
	if text := string(decoded); ContainsPEM(text) {
		return n.validate(RepairPEM(text), kind)
	}
	if ca.IsDER(decoded) {
		return n.fromDER(scratch, name, decoded, kind)
	}
	return nil, fmt.Errorf("%w: invalid %s", ErrFormat, kind)
}

func (n *Normalizer) fromDER(scratch Scratch, name string, der []byte, kind ca.Kind) ([]byte, error) {
	if scratch != nil {
		derName := name + ".der"
		if err := scratch.WriteFile(derName, der); err != nil {
			return nil, err
		}
		defer func() {
			if err := scratch.Remove(derName); err != nil {
				n.logger.Warn("failed to remove DER artifact", "file", derName, "error", err.Error())
			}
		}()
	}
	pemBytes, err := n.ops.ConvertDERToPEM(der, kind)
	if err != nil {
		return nil, err
	}
	return n.validate(pemBytes, kind)
}

func (n *Normalizer) validate(pemBytes []byte, kind ca.Kind) ([]byte, error) {
	if err := n.ops.Validate(pemBytes, kind); err != nil {
		return nil, err
	}
	return pemBytes, nil
}
