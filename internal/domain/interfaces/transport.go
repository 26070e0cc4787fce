package interfaces

import (
	"context"

	"github.com/google/uuid"

	types "pqsession/internal/domain/types"
)

// KeysType distinguishes which one-time key sequence a transport operation
// addresses.
type KeysType int

const (
	KeysTypeCurve KeysType = iota
	KeysTypeKyber
)

// RotatedPublicKeys is the payload of publishRotatedKeys: a freshly signed
// long-term/signing key set, published after a compromise or routine
// rotation. Out of scope for the ratchet driver itself but part of the
// transport surface the core depends on.
type RotatedPublicKeys struct {
	LongTermPublicKey X25519PublicAlias
	SigningPublicKey  Ed25519PublicAlias
	Signature         []byte
}

type (
	X25519PublicAlias  = types.X25519Public
	Ed25519PublicAlias = types.Ed25519Public
)

// UploadPacket is the opaque handle createUploadPacket returns for a media
// transfer handshake.
type UploadPacket struct {
	ID       uuid.UUID
	Metadata map[string]string
}

// SessionTransport is the network collaborator the core requires. The
// core treats every error it returns as a generic transport error; only
// the job runner's retry/offline logic inspects whether the session
// reports itself viable.
type SessionTransport interface {
	// IsViable reports whether the transport currently believes it can
	// reach the network; the job runner consults this before running a
	// job.
	IsViable(ctx context.Context) bool

	SendMessage(ctx context.Context, message types.SignedRatchetMessage, metadata types.SignedRatchetMessageMetadata) error

	FindConfiguration(ctx context.Context, secretName types.SecretName) (types.UserConfiguration, error)
	PublishUserConfiguration(ctx context.Context, configuration types.UserConfiguration, recipient uuid.UUID) error

	FetchOneTimeKey(ctx context.Context, secretName types.SecretName, deviceID types.DeviceID, kind KeysType) ([]byte, error)
	FetchIdentities(ctx context.Context, secretName types.SecretName, deviceID types.DeviceID, kind KeysType) ([][]byte, error)
	UpdateOneTimeKeys(ctx context.Context, secretName types.SecretName, deviceID types.DeviceID, kind KeysType, signedPublicKeys [][]byte) error
	DeleteOneTimeKey(ctx context.Context, secretName types.SecretName, deviceID types.DeviceID, kind KeysType, id uuid.UUID) error
	BatchDeleteOneTimeKeys(ctx context.Context, secretName types.SecretName, deviceID types.DeviceID, kind KeysType, ids []uuid.UUID) error

	PublishRotatedKeys(ctx context.Context, secretName types.SecretName, deviceID types.DeviceID, keys RotatedPublicKeys) error
	CreateUploadPacket(ctx context.Context, secretName types.SecretName, deviceID types.DeviceID, recipient uuid.UUID, metadata map[string]string) (UploadPacket, error)
}
