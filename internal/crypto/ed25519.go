package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"pqsession/internal/domain"
)

// GenerateEd25519 returns a fresh signing key pair. The private key is
// generated from a 32-byte seed so the full seed||public form lands in
// domain.Ed25519Private exactly as crypto/ed25519 lays it out.
func GenerateEd25519() (domain.Ed25519Private, domain.Ed25519Public, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return domain.Ed25519Private{}, domain.Ed25519Public{}, fmt.Errorf("ed25519: read entropy: %w", err)
	}
	defer Wipe(seed)

	sk := ed25519.NewKeyFromSeed(seed)
	var priv domain.Ed25519Private
	copy(priv[:], sk)
	return priv, PublicFromEd25519Private(priv), nil
}

// PublicFromEd25519Private extracts the public half embedded in the
// private key's seed||public layout.
func PublicFromEd25519Private(priv domain.Ed25519Private) domain.Ed25519Public {
	var pub domain.Ed25519Public
	copy(pub[:], priv[ed25519.SeedSize:])
	return pub
}

// SignEd25519 signs msg, producing the 64-byte signature the signed
// envelope and configuration bundles carry.
func SignEd25519(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv.Slice()), msg)
}

// VerifyEd25519 reports whether sig is priv's holder's signature over msg.
// A signature of any length other than the wire format's 64 bytes is
// rejected outright.
func VerifyEd25519(pub domain.Ed25519Public, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub.Slice()), msg, sig)
}
