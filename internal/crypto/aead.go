package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Seal encrypts plaintext with XChaCha20-Poly1305 under key, generating a
// fresh random nonce and authenticating aad. Returns the nonce and
// ciphertext separately so callers can store them as distinct columns (the
// encrypted model layer's EncryptedBlob shape).
func Seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// Open decrypts ciphertext with XChaCha20-Poly1305 under key, verifying aad
// and nonce. Any failure is reported as ErrDecryptFailed-compatible by the
// caller; Open itself returns the underlying cipher error for logging.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aead: open: %w", err)
	}
	return plaintext, nil
}
