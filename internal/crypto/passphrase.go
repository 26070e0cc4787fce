package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2 parameters for deriving the database symmetric key from a user
// passphrase. Chosen to be comfortable on a laptop-class device within a
// few hundred milliseconds; callers that need the device salt persisted
// go through SessionStore.FetchDeviceSalt/DeleteDeviceSalt.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltSize      = 16
)

// NewDeviceSalt generates a fresh random salt for DeriveDatabaseKey.
func NewDeviceSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate device salt: %w", err)
	}
	return salt, nil
}

// DeriveDatabaseKey expands passphrase plus the device salt into the
// 32-byte AEAD key the Encrypted Model Layer seals every record under.
func DeriveDatabaseKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}
