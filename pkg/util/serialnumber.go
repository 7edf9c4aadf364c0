package util

import (
	"crypto/rand"
	"io"
	"math/big"
)

// Returns a random, positive 128-bit x509 serial number read from the
// provided entropy source. crypto/rand is used when random is nil.
func X509SerialNumber(random io.Reader) (*big.Int, error) {
	if random == nil {
		random = rand.Reader
	}
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	for {
		serial, err := rand.Int(random, serialNumberLimit)
		if err != nil {
			return nil, err
		}
		// RFC 5280 4.1.2.2: serial numbers must be positive
		if serial.Sign() > 0 {
			return serial, nil
		}
	}
}
