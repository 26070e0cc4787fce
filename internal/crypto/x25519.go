package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"pqsession/internal/domain"
)

// ErrLowOrderPoint is returned by DH when the computed shared secret is
// all zeros, which happens iff the peer supplied a low-order public key.
// Every handshake leg rejects such keys: a zero secret would let a
// malicious peer force both sides onto a predictable transcript.
var ErrLowOrderPoint = errors.New("x25519: low-order public key")

// GenerateX25519 returns a fresh Curve25519 key pair. The private scalar
// is clamped before the public half is derived, so the returned pair is
// usable directly as a long-term, one-time, or ratchet key.
func GenerateX25519() (domain.X25519Private, domain.X25519Public, error) {
	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		return domain.X25519Private{}, domain.X25519Public{}, fmt.Errorf("x25519: read entropy: %w", err)
	}
	clampX25519(&priv)

	pub, err := PublicFromX25519Private(priv)
	if err != nil {
		return domain.X25519Private{}, domain.X25519Public{}, err
	}
	return priv, pub, nil
}

// PublicFromX25519Private derives the public key for an already-clamped
// private scalar. Used both by GenerateX25519 and at the call sites that
// hold only the scalar (LocalKeyBundle) but must put the matching public
// key on the wire.
func PublicFromX25519Private(priv domain.X25519Private) (domain.X25519Public, error) {
	raw, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return domain.X25519Public{}, fmt.Errorf("x25519: derive public key: %w", err)
	}
	var pub domain.X25519Public
	copy(pub[:], raw)
	return pub, nil
}

// DH runs one Curve25519 Diffie–Hellman leg of a handshake and returns
// the 32-byte shared secret. Low-order peer keys are rejected with
// ErrLowOrderPoint rather than contributing a zero secret.
func DH(priv domain.X25519Private, pub domain.X25519Public) ([32]byte, error) {
	var shared [32]byte
	raw, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return shared, fmt.Errorf("x25519: shared secret: %w", err)
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(raw, zero[:]) == 1 {
		return shared, ErrLowOrderPoint
	}
	copy(shared[:], raw)
	return shared, nil
}

// clampX25519 forces the scalar into the form RFC 7748 requires: clear the
// low three bits, clear the top bit, set bit 254.
func clampX25519(k *domain.X25519Private) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
