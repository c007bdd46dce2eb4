package hashing

import (
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
	"golang.org/x/crypto/blake2b"
)

var ErrKeyTooLong = errors.New("identity hash key longer than 64 bytes")

// Fingerprint reduces s to a short base36 string with 32-bit murmur3.
// It binds data to an environment heuristically; it is not a MAC.
func Fingerprint(s string) string {
	return strconv.FormatUint(uint64(murmur3.Sum32([]byte(s))), 36)
}

// IdentityHasher derives storage keys from account identifiers so that raw
// e-mail addresses never appear in key names.
type IdentityHasher struct {
	key []byte
}

// NewIdentityHasher returns a hasher keyed with key. An empty key yields an
// unkeyed BLAKE2b-256.
func NewIdentityHasher(key string) (*IdentityHasher, error) {
	if len(key) > blake2b.Size {
		return nil, ErrKeyTooLong
	}
	return &IdentityHasher{key: []byte(key)}, nil
}

// Hash normalizes identity (trimmed, lower-cased) and returns the first
// 16 bytes of its BLAKE2b-256 digest as hex.
func (h *IdentityHasher) Hash(identity string) string {
	normalized := strings.ToLower(strings.TrimSpace(identity))

	d, err := blake2b.New256(h.key)
	if err != nil {
		// Only possible for keys over 64 bytes, rejected in the constructor.
		panic(err)
	}
	d.Write([]byte(normalized))
	sum := d.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
