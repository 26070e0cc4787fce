package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short display fingerprint of a public key: the
// first 10 bytes of its BLAKE2b-256 digest, hex-encoded. Collision
// resistance at this length is display-grade only; never compare
// fingerprints in place of the keys themselves.
func Fingerprint(pub []byte) string {
	sum := blake2b.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}
