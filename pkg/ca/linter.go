package ca

import (
	"errors"
	"fmt"
	"sort"

	zx509 "github.com/zmap/zcrypto/x509"
	"github.com/zmap/zlint/v3"
	"github.com/zmap/zlint/v3/lint"

	"github.com/laniot/laniot-signer/pkg/logging"
)

var ErrLinting = errors.New("certificate-authority: failed lint(s)")

// Linter runs the RFC 5280 zlint suite over issued leaf certificates.
// Findings are logged, never enforced.
type Linter struct {
	logger   *logging.Logger
	registry lint.Registry
}

func NewLinter(logger *logging.Logger, skipLints []string) (*Linter, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	registry, err := lint.GlobalRegistry().Filter(lint.FilterOptions{
		ExcludeNames:   skipLints,
		IncludeSources: []lint.LintSource{lint.RFC5280},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: registry: %w", ErrLinting, err)
	}
	return &Linter{logger: logger, registry: registry}, nil
}

// Returns the sorted "name (details)" list of lints that did not pass
func (l *Linter) Lint(der []byte) ([]string, error) {
	cert, err := zx509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrLinting, err)
	}
	results := zlint.LintCertificateEx(cert, l.registry)
	var findings []string
	for name, result := range results.Results {
		if result.Status > lint.Pass {
			findings = append(findings, fmt.Sprintf("%s (%s)", name, result.Details))
		}
	}
	sort.Strings(findings)
	return findings, nil
}

// Lints the certificate and logs any findings as warnings
func (l *Linter) Report(der []byte) {
	findings, err := l.Lint(der)
	if err != nil {
		l.logger.Warn("lint skipped", "error", err.Error())
		return
	}
	for _, finding := range findings {
		l.logger.Warn("lint finding", "lint", finding)
	}
}
