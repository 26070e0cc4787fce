package types

import "github.com/google/uuid"

// X25519Public is a Curve25519 public key used for the classical leg of the
// hybrid handshake.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// X25519Private is a Curve25519 private scalar.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signature verification key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// KyberPublicKey is an ML-KEM-1024 encapsulation key. Unlike the classical
// keys above it is not a fixed small array: ML-KEM-1024 public keys are 1568
// bytes, so it is stored as a byte slice.
type KyberPublicKey []byte

// KyberPrivateKey is an ML-KEM-1024 decapsulation key (3168 bytes).
type KyberPrivateKey []byte

// OneTimeKeyID names one entry in a one-time key sequence.
type OneTimeKeyID = uuid.UUID

// OneTimeKeyPair is a locally-held classical one-time key: the private
// scalar this device generated plus the id it was published under.
type OneTimeKeyPair struct {
	ID     OneTimeKeyID  `bson:"id"`
	Scalar X25519Private `bson:"scalar"`
}

// OneTimeKeyPublic is the public half of a one-time key, as published in a
// signed user configuration bundle.
type OneTimeKeyPublic struct {
	ID  OneTimeKeyID `bson:"id"`
	Key X25519Public `bson:"key"`
}

// KyberOneTimeKeyPair is a locally-held post-quantum one-time key.
type KyberOneTimeKeyPair struct {
	ID     OneTimeKeyID    `bson:"id"`
	Secret KyberPrivateKey `bson:"secret"`
}

// KyberOneTimeKeyPublic is the public half of a Kyber one-time key.
type KyberOneTimeKeyPublic struct {
	ID  OneTimeKeyID   `bson:"id"`
	Key KyberPublicKey `bson:"key"`
}

// DeviceKeys is the full private key material for this device.
type DeviceKeys struct {
	PrivateLongTermKey      X25519Private         `bson:"private_long_term_key"`
	PrivateSigningKey       Ed25519Private        `bson:"private_signing_key"`
	PrivateOneTimeKeys      []OneTimeKeyPair      `bson:"private_one_time_keys"`
	PrivateKyberOneTimeKeys []KyberOneTimeKeyPair `bson:"private_kyber_one_time_keys"`
	FinalKyberPrivateKey    KyberPrivateKey       `bson:"final_kyber_private_key"`
}

// MostRecentOneTimeKey returns the most recently appended classical one-time
// key, or ok=false if none remain. "Most recent" is the last element of the
// ordered sequence: the most recently appended local Curve25519 one-time
// private key.
func (k DeviceKeys) MostRecentOneTimeKey() (OneTimeKeyPair, bool) {
	if len(k.PrivateOneTimeKeys) == 0 {
		return OneTimeKeyPair{}, false
	}
	return k.PrivateOneTimeKeys[len(k.PrivateOneTimeKeys)-1], true
}

// MostRecentKyberOneTimeKey returns the most recently appended Kyber
// one-time key, or ok=false if none remain.
func (k DeviceKeys) MostRecentKyberOneTimeKey() (KyberOneTimeKeyPair, bool) {
	if len(k.PrivateKyberOneTimeKeys) == 0 {
		return KyberOneTimeKeyPair{}, false
	}
	return k.PrivateKyberOneTimeKeys[len(k.PrivateKyberOneTimeKeys)-1], true
}

// FindOneTimeKey returns the private one-time key with the given id.
func (k DeviceKeys) FindOneTimeKey(id OneTimeKeyID) (OneTimeKeyPair, bool) {
	for _, pair := range k.PrivateOneTimeKeys {
		if pair.ID == id {
			return pair, true
		}
	}
	return OneTimeKeyPair{}, false
}

// FindKyberOneTimeKey returns the private Kyber one-time key with the given id.
func (k DeviceKeys) FindKyberOneTimeKey(id OneTimeKeyID) (KyberOneTimeKeyPair, bool) {
	for _, pair := range k.PrivateKyberOneTimeKeys {
		if pair.ID == id {
			return pair, true
		}
	}
	return KyberOneTimeKeyPair{}, false
}

// WithoutOneTimeKey returns a copy of k with the one-time key id removed
// from the private classical sequence only; the Kyber sequence is left
// untouched (WithoutKyberOneTimeKey prunes that one). removeUsedKeys calls
// both to keep the two sequences free of consumed key material.
func (k DeviceKeys) WithoutOneTimeKey(id OneTimeKeyID) DeviceKeys {
	out := k
	out.PrivateOneTimeKeys = removeByID(k.PrivateOneTimeKeys, id, func(p OneTimeKeyPair) OneTimeKeyID { return p.ID })
	return out
}

// WithoutKyberOneTimeKey returns a copy of k with the Kyber one-time key id removed.
func (k DeviceKeys) WithoutKyberOneTimeKey(id OneTimeKeyID) DeviceKeys {
	out := k
	out.PrivateKyberOneTimeKeys = removeByID(k.PrivateKyberOneTimeKeys, id, func(p KyberOneTimeKeyPair) OneTimeKeyID { return p.ID })
	return out
}

func removeByID[T any](in []T, id OneTimeKeyID, keyOf func(T) OneTimeKeyID) []T {
	out := make([]T, 0, len(in))
	for _, item := range in {
		if keyOf(item) == id {
			continue
		}
		out = append(out, item)
	}
	return out
}
