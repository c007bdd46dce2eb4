package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	DefaultTokenPrefix = "omt_"
	DefaultTokenBytes  = 32
)

// TokenRecord is what the tab store keeps under the session key.
type TokenRecord struct {
	Token       string    `json:"token"`
	Expires     time.Time `json:"expires"`
	Fingerprint string    `json:"fingerprint"`
	Issued      time.Time `json:"issued"`
}

// Expired reports whether the record is no longer usable at now.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.Expires)
}

// GenerateToken returns prefix followed by byteLength random bytes in hex.
func GenerateToken(prefix string, byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = DefaultTokenBytes
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}
