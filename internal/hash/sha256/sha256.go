// Package sha256 fingerprints fetched page bodies and builds the Redis keys of
// the freshness tier.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher satisfies crawler.Hasher for the page handler and rediscache.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex content hash recorded on a page payload.
func (h *Hasher) Hash(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// Key digests (worker, request key) style tuples. Parts are NUL-separated,
// so ("ab","c") and ("a","bc") map to different keys.
func (h *Hasher) Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
