package secret

import (
	"encoding/base64"
	"regexp"
	"strings"
)

const (
	byteOrderMark = "\uFEFF"
	pemLineLength = 64
	beginMarker   = "-----BEGIN "
)

var (
	pemHeader = regexp.MustCompile(`-----BEGIN ([^-]+)-----\s*`)
	pemFooter = regexp.MustCompile(`\s*-----END ([^-]+)-----`)
	drivePath = regexp.MustCompile(`^[A-Za-z]:\\`)
	fileExt   = regexp.MustCompile(`(?i)\.(crt|pem|cer|der|key|p12|pfx|p7b|p7c)$`)

	escapes = strings.NewReplacer(`\r\n`, "\n", `\n`, "\n", `\r`, "")
)

// Clean removes the wrapping a secret typically picks up when it is stored
// as a single-line environment value: surrounding whitespace, a byte order
// mark, escaped line breaks and one layer of quotes.
func Clean(raw string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), byteOrderMark))
	s = escapes.Replace(s)
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if n := len(s); n > 0 && (s[n-1] == '"' || s[n-1] == '\'') {
		s = s[:n-1]
	}
	return strings.TrimSpace(s)
}

// LooksLikePath reports whether s is probably a reference to a certificate
// or key file rather than inline content. This is a heuristic: a base64 value
// that happens to start with "/" and end in ".pem" is misclassified.
func LooksLikePath(s string) bool {
	if strings.Contains(s, "://") || strings.Contains(s, "-----BEGIN") {
		return false
	}
	pathLike := strings.HasPrefix(s, "/") ||
		strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") ||
		drivePath.MatchString(s)
	return pathLike && fileExt.MatchString(s)
}

// ContainsPEM reports whether s carries a PEM BEGIN marker
func ContainsPEM(s string) bool {
	return strings.Contains(s, beginMarker)
}

// RepairPEM puts every BEGIN and END marker on its own line, reflows each
// base64 body to 64 columns ignoring existing whitespace and terminates the
// result with one newline. Canonical PEM passes through unchanged.
func RepairPEM(s string) []byte {
	s = pemHeader.ReplaceAllString(strings.TrimSpace(s), "-----BEGIN ${1}-----\n")
	s = pemFooter.ReplaceAllString(s, "\n-----END ${1}-----\n")

	var out, body strings.Builder
	out.Grow(len(s) + len(s)/pemLineLength + 1)
	flush := func() {
		b := body.String()
		for len(b) > 0 {
			n := min(pemLineLength, len(b))
			out.WriteString(b[:n])
			out.WriteByte('\n')
			b = b[n:]
		}
		body.Reset()
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "-----") {
			flush()
			out.WriteString(strings.TrimSpace(line))
			out.WriteByte('\n')
			continue
		}
		for _, field := range strings.Fields(line) {
			body.WriteString(field)
		}
	}
	flush()
	return []byte(out.String())
}

// DecodeBase64 decodes standard or URL-safe base64, padded or not, ignoring
// embedded whitespace.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}
