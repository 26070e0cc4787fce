package types

import "github.com/google/uuid"

// SessionIdentity is the local record of one peer device: everything this
// device needs to run the ratchet against that peer. Exactly
// one exists per (SecretName, DeviceID) pair ever contacted, including
// sibling devices of the local user.
type SessionIdentity struct {
	ID                uuid.UUID        `bson:"_id"`
	SecretName        SecretName       `bson:"secret_name"`
	DeviceID          DeviceID         `bson:"device_id"`
	SessionContextID  SessionContextID `bson:"session_context_id"`
	PublicLongTermKey X25519Public     `bson:"public_long_term_key"`
	PublicSigningKey  Ed25519Public    `bson:"public_signing_key"`

	// RemoteOneTimePublicKey/RemoteKyberPublicKey are consumed from the
	// peer's published configuration the first time a handshake runs in
	// either direction; nil once no longer needed.
	RemoteOneTimePublicKey *OneTimeKeyPublic      `bson:"remote_one_time_public_key,omitempty"`
	RemoteKyberPublicKey   *KyberOneTimeKeyPublic `bson:"remote_kyber_public_key,omitempty"`

	DeviceName    string `bson:"device_name"`
	IsMasterDevice bool  `bson:"is_master_device"`

	// State is the opaque ratchet state blob owned by the ratchet primitive.
	// Nil means the ratchet has never been initialized in either direction
	// for this identity.
	State []byte `bson:"state,omitempty"`
}

// Initialized reports whether the ratchet has run at least once for this
// identity.
func (s SessionIdentity) Initialized() bool { return s.State != nil }

// Key returns the (SecretName, DeviceID) pair identifying this identity.
func (s SessionIdentity) Key() IdentityKey {
	return IdentityKey{SecretName: s.SecretName, DeviceID: s.DeviceID}
}

// IdentityKey is the natural, non-synthetic key of a SessionIdentity,
// usable as a map key for de-duplication and lookup.
type IdentityKey struct {
	SecretName SecretName
	DeviceID   DeviceID
}
