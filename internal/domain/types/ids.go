package types

import "github.com/google/uuid"

// SecretName is the globally-unique label a user publishes under (the
// "username" of the data model). It is distinct from a DeviceID: one
// SecretName may own many devices.
type SecretName string

// String returns the string form of the secret name.
func (n SecretName) String() string { return string(n) }

// DeviceID identifies one physical/logical device belonging to a SecretName.
type DeviceID = uuid.UUID

// SessionContextID is a local, process-private 63-bit integer that uniquely
// names a SessionIdentity record within this device's store. It is never
// transmitted; it exists purely so in-memory code can refer to an identity
// without repeatedly decrypting its SecretName/DeviceID pair.
type SessionContextID int64

// SharedID correlates a persisted record (message, conversation) across both
// participants' devices. It travels on the wire as a plain string so it can
// be carried inside CryptoMessage.Metadata/Text without an extra envelope
// field.
type SharedID string

// NewUUID returns a fresh random UUID, used for every UUID-typed identifier
// in the data model (SessionIdentity.ID, Communication.ID, EncryptedMessage.ID,
// JobModel.ID, one-time key IDs, ...).
func NewUUID() uuid.UUID { return uuid.New() }
