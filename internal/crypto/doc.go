// Package crypto exposes the minimal primitives the session engine builds
// on top of.
//
// Contents
//
//   - X25519 key generation and Diffie–Hellman (GenerateX25519, DH,
//     PublicFromX25519Private)
//   - ML-KEM-1024 key generation, encapsulation and decapsulation
//     (GenerateKyber1024, Encapsulate, Decapsulate)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - HKDF-based chain/root key derivation (DeriveKeys)
//   - XChaCha20-Poly1305 sealing for the encrypted model layer (Seal, Open)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Classical functions return fixed-size array types defined in
// internal/domain to avoid accidental reallocations; ML-KEM keys and
// ciphertexts are slices since their sizes don't fit in small arrays.
// Callers should treat returned secrets as sensitive and rely on Wipe when
// practical to reduce lifetime in memory.
package crypto
