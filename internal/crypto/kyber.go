package crypto

import (
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"

	"pqsession/internal/domain"
)

// GenerateKyber1024 generates a new ML-KEM-1024 key pair for the KEM leg of
// the hybrid handshake.
func GenerateKyber1024() (priv domain.KyberPrivateKey, pub domain.KyberPublicKey, err error) {
	pk, sk, err := mlkem1024.GenerateKeyPair(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("kyber1024: generate key pair: %w", err)
	}
	pub, err = pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("kyber1024: marshal public key: %w", err)
	}
	priv, err = sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("kyber1024: marshal private key: %w", err)
	}
	return priv, pub, nil
}

// Encapsulate derives a shared secret against a remote ML-KEM-1024 public
// key, returning the secret and the ciphertext to send alongside the
// message header.
func Encapsulate(pub domain.KyberPublicKey) (ciphertext []byte, sharedSecret []byte, err error) {
	scheme := mlkem1024.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("kyber1024: unmarshal public key: %w", err)
	}
	ct, ss, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("kyber1024: encapsulate: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a ciphertext using a local
// ML-KEM-1024 private key.
func Decapsulate(priv domain.KyberPrivateKey, ciphertext []byte) ([]byte, error) {
	scheme := mlkem1024.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("kyber1024: unmarshal private key: %w", err)
	}
	ss, err := scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kyber1024: decapsulate: %w", err)
	}
	return ss, nil
}

// PublicFromKyberPrivate recovers the public key for an already-generated
// ML-KEM-1024 private key. Used where only the private key is held
// (DeviceKeys.FinalKyberPrivateKey) but the public half must go out in a
// published user configuration.
func PublicFromKyberPrivate(priv domain.KyberPrivateKey) (domain.KyberPublicKey, error) {
	scheme := mlkem1024.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("kyber1024: unmarshal private key: %w", err)
	}
	pub, err := sk.Public().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("kyber1024: marshal public key: %w", err)
	}
	return pub, nil
}

// KyberCiphertextSize and KyberPublicKeySize are exposed for callers that
// need to pre-size buffers (notably the wire codec).
var (
	KyberCiphertextSize = mlkem1024.CiphertextSize
	KyberPublicKeySize  = mlkem1024.PublicKeySize
	KyberSharedKeySize  = mlkem1024.SharedKeySize
)
