package ca

import (
	"fmt"
	"net"
	"strings"
)

// Extensions carries the subject alternative names for a leaf certificate.
// The remaining leaf extensions are fixed: basicConstraints=CA:FALSE,
// keyUsage=digitalSignature,keyEncipherment and extendedKeyUsage=serverAuth.
//
// Every value is passed through SanitizeIP / SanitizeDNS before it is
// embedded in a certificate or rendered into textual configuration.
type Extensions struct {
	IPAddresses []string
	DNSNames    []string
}

// Builds the SAN set for a request: the IP is always present, the DNS name
// only when something survives sanitization.
func NewExtensions(ip, dns string) *Extensions {
	ext := &Extensions{
		IPAddresses: []string{SanitizeIP(ip)},
	}
	if safeDNS := SanitizeDNS(dns); safeDNS != "" {
		ext.DNSNames = []string{safeDNS}
	}
	return ext
}

// Retains only digits and dots
func SanitizeIP(ip string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, ip)
}

// Retains only ASCII letters, digits, dots and hyphens
func SanitizeDNS(dns string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '-':
			return r
		}
		return -1
	}, dns)
}

// Returns the parsed IP and DNS subject alternative names
func (ext *Extensions) SANs() ([]net.IP, []string, error) {
	ips := make([]net.IP, 0, len(ext.IPAddresses))
	for _, raw := range ext.IPAddresses {
		safe := SanitizeIP(raw)
		ip := net.ParseIP(safe)
		if ip == nil || ip.To4() == nil {
			return nil, nil, fmt.Errorf("%w: IP %q", ErrInvalidSAN, safe)
		}
		ips = append(ips, ip.To4())
	}
	dnsNames := make([]string, 0, len(ext.DNSNames))
	for _, raw := range ext.DNSNames {
		if safe := SanitizeDNS(raw); safe != "" {
			dnsNames = append(dnsNames, safe)
		}
	}
	if len(ips) == 0 && len(dnsNames) == 0 {
		return nil, nil, fmt.Errorf("%w: empty SAN set", ErrInvalidSAN)
	}
	return ips, dnsNames, nil
}

// Renders the extension set as an OpenSSL style extension file
func (ext *Extensions) Config() string {
	lines := []string{
		"basicConstraints=CA:FALSE",
		"keyUsage=digitalSignature,keyEncipherment",
		"extendedKeyUsage=serverAuth",
		"subjectAltName=@alt_names",
		"[alt_names]",
	}
	n := 0
	for _, ip := range ext.IPAddresses {
		n++
		lines = append(lines, fmt.Sprintf("IP.%d=%s", n, SanitizeIP(ip)))
	}
	n = 0
	for _, dns := range ext.DNSNames {
		if safe := SanitizeDNS(dns); safe != "" {
			n++
			lines = append(lines, fmt.Sprintf("DNS.%d=%s", n, safe))
		}
	}
	return strings.Join(lines, "\n")
}
