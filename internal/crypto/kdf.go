package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKeys expands ikm into n*32-byte keys via HKDF-SHA256, labelled by
// info. Used for both the hybrid root-key derivation (mixing the X25519 and
// Kyber shared secrets) and the ratchet's chain-key derivation.
func DeriveKeys(ikm, salt, info []byte, n int) ([][]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, 32)
		if _, err := io.ReadFull(reader, out[i]); err != nil {
			return nil, fmt.Errorf("hkdf: derive key %d: %w", i, err)
		}
	}
	return out, nil
}
