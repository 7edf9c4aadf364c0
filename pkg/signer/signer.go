// Package signer issues device leaf certificates: it generates a fresh
// device key, builds a CSR for the device and signs it with the
// intermediate CA inside a scratch workspace that never outlives the call.
package signer

import (
	"context"
	"crypto/elliptic"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/laniot/laniot-signer/pkg/ca"
	"github.com/laniot/laniot-signer/pkg/logging"
	"github.com/laniot/laniot-signer/pkg/secret"
	"github.com/laniot/laniot-signer/pkg/workspace"
)

const (
	MinDays     = 1
	MaxDays     = 365
	DefaultDays = 7

	fileIntermediateCert = "intermediate.crt"
	fileIntermediateKey  = "intermediate.key"
	fileExtensions       = "ext.cnf"
	fileDeviceKey        = "device.key"
	fileDeviceCSR        = "device.csr"
	fileLeafCert         = "server.crt"
	fileChain            = "server_chain.crt"
)

var (
	ErrNormalization = errors.New("signer: intermediate CA material normalization failed")
	ErrSigning       = ca.ErrSigning
)

// Normalizer converts raw CA material to canonical PEM. *secret.Normalizer
// satisfies it.
type Normalizer interface {
	Normalize(raw string, kind ca.Kind) ([]byte, error)
	NormalizeTo(scratch secret.Scratch, name, raw string, kind ca.Kind) ([]byte, error)
}

// SigningRequest describes the device a leaf is issued for. IP and DNS are
// sanitized again before use regardless of upstream validation.
type SigningRequest struct {
	DeviceID string
	IP       string
	DNS      string
	Days     int
}

type Result struct {
	// EC PRIVATE KEY PEM of the freshly generated device key
	DeviceKeyPEM []byte
	// Leaf certificate PEM followed by the intermediate certificate PEM
	ChainPEM []byte
}

type Params struct {
	Logger         *logging.Logger
	Operations     ca.Operations
	Normalizer     Normalizer
	Workspaces     *workspace.Manager
	IntermediateCA *IntermediateCA
	Registerer     prometheus.Registerer
}

type Signer struct {
	logger       *logging.Logger
	ops          ca.Operations
	normalizer   Normalizer
	workspaces   *workspace.Manager
	intermediate *IntermediateCA
	metrics      *metrics
}

func NewSigner(params *Params) *Signer {
	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	ops := params.Operations
	if ops == nil {
		ops = ca.NewNativeOperations(&ca.Params{Logger: logger})
	}
	normalizer := params.Normalizer
	if normalizer == nil {
		normalizer = secret.NewNormalizer(&secret.Params{
			Logger:     logger,
			Operations: ops,
		})
	}
	workspaces := params.Workspaces
	if workspaces == nil {
		workspaces = workspace.NewManager(&workspace.Params{Logger: logger})
	}
	registerer := params.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	return &Signer{
		logger:       logger,
		ops:          ops,
		normalizer:   normalizer,
		workspaces:   workspaces,
		intermediate: params.IntermediateCA,
		metrics:      newMetrics(registerer),
	}
}

// Returns the process-wide intermediate CA, or nil if none was configured
func (s *Signer) IntermediateCA() *IntermediateCA {
	return s.intermediate
}

// SignLeaf issues a leaf signed by the intermediate CA loaded at startup
func (s *Signer) SignLeaf(ctx context.Context, req *SigningRequest) (*Result, error) {
	if s.intermediate == nil {
		return nil, ErrIntermediateCA
	}
	return s.SignLeafWith(ctx, req, string(s.intermediate.certPEM), string(s.intermediate.keyPEM))
}

// SignLeafWith issues a leaf signed by the supplied intermediate CA
// material, which may be in any encoding the secret package accepts.
// The workspace acquired for the call is released on every return path,
// including cancellation; a failed release fails the call.
func (s *Signer) SignLeafWith(
	ctx context.Context,
	req *SigningRequest,
	certRaw, keyRaw string) (result *Result, err error) {

	start := time.Now()
	defer func() {
		s.metrics.observe(start, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := s.workspaces.Acquire()
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("workspace", ws.ID, "device", req.DeviceID)
	defer func() {
		if releaseErr := s.workspaces.Release(ws); releaseErr != nil {
			logger.Error(releaseErr)
			if err == nil {
				result, err = nil, releaseErr
			}
		}
	}()

	certPEM, err := s.normalizer.NormalizeTo(ws, fileIntermediateCert, certRaw, ca.KindCert)
	if err != nil {
		return nil, fmt.Errorf("%w: intermediate certificate: %w", ErrNormalization, err)
	}
	keyPEM, err := s.normalizer.NormalizeTo(ws, fileIntermediateKey, keyRaw, ca.KindKey)
	if err != nil {
		return nil, fmt.Errorf("%w: intermediate key: %w", ErrNormalization, err)
	}

	extensions := ca.NewExtensions(req.IP, req.DNS)
	if err := ws.WriteFile(fileExtensions, []byte(extensions.Config())); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deviceKeyPEM, err := s.ops.GenerateKeyPair(elliptic.P256())
	if err != nil {
		return nil, err
	}
	if err := ws.WriteFile(fileDeviceKey, deviceKeyPEM); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	csrPEM, err := s.ops.CreateCSR(deviceKeyPEM, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteFile(fileDeviceCSR, csrPEM); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	leafPEM, err := s.ops.SignCertificate(csrPEM, certPEM, keyPEM, ClampDays(req.Days), extensions)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteFile(fileLeafCert, leafPEM); err != nil {
		return nil, err
	}
	if err := ws.WriteFile(fileChain, AssembleChain(leafPEM, certPEM)); err != nil {
		return nil, err
	}

	result = &Result{}
	if result.DeviceKeyPEM, err = ws.ReadFile(fileDeviceKey); err != nil {
		return nil, err
	}
	if result.ChainPEM, err = ws.ReadFile(fileChain); err != nil {
		return nil, err
	}

	logger.Info("leaf certificate issued",
		"ip", ca.SanitizeIP(req.IP),
		"dns", ca.SanitizeDNS(req.DNS),
		"days", ClampDays(req.Days))

	return result, nil
}

// Concatenates the leaf and intermediate PEM, newline terminating the
// intermediate when needed
func AssembleChain(leafPEM, intermediatePEM []byte) []byte {
	chain := make([]byte, 0, len(leafPEM)+len(intermediatePEM)+1)
	chain = append(chain, leafPEM...)
	chain = append(chain, intermediatePEM...)
	if len(intermediatePEM) == 0 || intermediatePEM[len(intermediatePEM)-1] != '\n' {
		chain = append(chain, '\n')
	}
	return chain
}

// Clamps a validity period to [MinDays, MaxDays]
func ClampDays(days int) int {
	return max(MinDays, min(MaxDays, days))
}

// Returns days, or defaultDays when days is not set, clamped to
// [MinDays, MaxDays]
func ResolveDays(days *int, defaultDays int) int {
	if days == nil {
		return ClampDays(defaultDays)
	}
	return ClampDays(*days)
}
