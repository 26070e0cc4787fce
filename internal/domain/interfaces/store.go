package interfaces

import (
	"context"
	"iter"

	"github.com/google/uuid"

	types "pqsession/internal/domain/types"
)

// EncryptedBlob is the at-rest representation every record is stored as:
// opaque ciphertext keyed by id. The Encrypted Model Layer (internal/envelope)
// is the only thing that ever sees the plaintext schema behind a blob.
type EncryptedBlob struct {
	ID         uuid.UUID
	Ciphertext []byte
	Nonce      []byte
}

// SessionStore is the persistent store the core requires.
// It never sees decrypted records; everything in and out is an
// EncryptedBlob, decrypted/re-encrypted by internal/envelope on the caller's
// side of this interface.
type SessionStore interface {
	// Session context: single record, keyed implicitly (one per store).
	CreateSessionContext(ctx context.Context, blob EncryptedBlob) error
	FetchSessionContext(ctx context.Context) (EncryptedBlob, bool, error)
	UpdateSessionContext(ctx context.Context, blob EncryptedBlob) error
	DeleteSessionContext(ctx context.Context) error

	// Device salt: key-derivation input for the database symmetric key.
	FetchDeviceSalt(ctx context.Context) ([]byte, bool, error)
	DeleteDeviceSalt(ctx context.Context) error

	// Session identities.
	CreateIdentity(ctx context.Context, blob EncryptedBlob) error
	FetchAllIdentities(ctx context.Context) ([]EncryptedBlob, error)
	UpdateIdentity(ctx context.Context, blob EncryptedBlob) error
	DeleteIdentity(ctx context.Context, id uuid.UUID) error

	// Contacts.
	CreateContact(ctx context.Context, blob EncryptedBlob) error
	FetchAllContacts(ctx context.Context) ([]EncryptedBlob, error)
	UpdateContact(ctx context.Context, blob EncryptedBlob) error
	DeleteContact(ctx context.Context, id uuid.UUID) error

	// Communications.
	CreateCommunication(ctx context.Context, blob EncryptedBlob) error
	FetchAllCommunications(ctx context.Context) ([]EncryptedBlob, error)
	UpdateCommunication(ctx context.Context, blob EncryptedBlob) error
	DeleteCommunication(ctx context.Context, id uuid.UUID) error

	// Messages. communicationID/sharedID travel alongside the opaque blob
	// as plaintext index columns (the payload itself stays encrypted) so a
	// real store can query by conversation or shared id without decrypting
	// every row; memstore and the sqlite store both key a side index off
	// these two fields.
	CreateMessage(ctx context.Context, blob EncryptedBlob, communicationID uuid.UUID, sharedID types.SharedID) error
	UpdateMessage(ctx context.Context, blob EncryptedBlob) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	FetchMessageByID(ctx context.Context, id uuid.UUID) (EncryptedBlob, bool, error)
	FetchMessageBySharedID(ctx context.Context, sharedID types.SharedID) (EncryptedBlob, bool, error)
	StreamMessagesByCommunication(ctx context.Context, communicationID uuid.UUID) iter.Seq2[EncryptedBlob, error]
	CountMessagesByCommunication(ctx context.Context, communicationID uuid.UUID) (int64, error)

	// Jobs.
	CreateJob(ctx context.Context, blob EncryptedBlob) error
	FetchAllJobs(ctx context.Context) ([]EncryptedBlob, error)
	UpdateJob(ctx context.Context, blob EncryptedBlob) error
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// Media jobs: same durability contract as Jobs but queried by a few
	// extra access paths the media pipeline needs. recipientID/syncID are
	// plaintext index columns for the same reason as CreateMessage above.
	CreateMediaJob(ctx context.Context, blob EncryptedBlob, recipientID uuid.UUID, syncID uuid.UUID) error
	FetchMediaJobsByRecipient(ctx context.Context, recipientID uuid.UUID) ([]EncryptedBlob, error)
	FetchMediaJobBySyncID(ctx context.Context, syncID uuid.UUID) (EncryptedBlob, bool, error)
	FetchAllMediaJobs(ctx context.Context) ([]EncryptedBlob, error)
	FetchMediaJobByID(ctx context.Context, id uuid.UUID) (EncryptedBlob, bool, error)
	DeleteMediaJob(ctx context.Context, id uuid.UUID) error
}
