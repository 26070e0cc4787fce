package envelope

import (
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
)

// Decrypted is the in-memory view of an EncryptedBlob: Props is nil when the
// blob could not be decrypted or decoded, never when it genuinely holds a
// zero value of T.
type Decrypted[T any] struct {
	ID    uuid.UUID
	Props *T
}

// Open decrypts and BSON-decodes blob under key. A failure at either step
// yields a Decrypted with a nil Props together with an error wrapping
// domain.ErrDecryptFailed (AEAD open failed) or domain.ErrSchemaMismatch
// (decode failed).
func Open[T any](blob domain.EncryptedBlob, key []byte) (Decrypted[T], error) {
	plaintext, err := crypto.Open(key, blob.Nonce, blob.Ciphertext, blob.ID[:])
	if err != nil {
		return Decrypted[T]{ID: blob.ID}, fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}

	var props T
	if err := bson.Unmarshal(plaintext, &props); err != nil {
		return Decrypted[T]{ID: blob.ID}, fmt.Errorf("%w: %v", domain.ErrSchemaMismatch, err)
	}
	return Decrypted[T]{ID: blob.ID, Props: &props}, nil
}

// MakeDecryptedModel encrypts a freshly constructed props value under a new
// id, returning both the blob to persist and the in-memory view of it.
func MakeDecryptedModel[T any](props T, key []byte) (domain.EncryptedBlob, Decrypted[T], error) {
	id := domain.NewUUID()
	blob, err := seal(id, props, key)
	if err != nil {
		return domain.EncryptedBlob{}, Decrypted[T]{}, err
	}
	return blob, Decrypted[T]{ID: id, Props: &props}, nil
}

// MakeDecryptedModelWithID behaves like MakeDecryptedModel but seals props
// under an id the caller already chose, for record types (like JobModel)
// that embed their own id in both the plaintext and the store's key.
func MakeDecryptedModelWithID[T any](id uuid.UUID, props T, key []byte) (domain.EncryptedBlob, Decrypted[T], error) {
	blob, err := seal(id, props, key)
	if err != nil {
		return domain.EncryptedBlob{}, Decrypted[T]{}, err
	}
	return blob, Decrypted[T]{ID: id, Props: &props}, nil
}

// UpdateProps applies mutate to a decrypted value and re-encrypts it under
// the same id, returning the blob to persist. mutate receives a pointer so
// it can edit props in place; the caller is responsible for loading current
// as with Open first.
func UpdateProps[T any](current Decrypted[T], key []byte, mutate func(*T)) (domain.EncryptedBlob, Decrypted[T], error) {
	if current.Props == nil {
		return domain.EncryptedBlob{}, Decrypted[T]{}, domain.ErrDecryptFailed
	}
	next := *current.Props
	mutate(&next)

	blob, err := seal(current.ID, next, key)
	if err != nil {
		return domain.EncryptedBlob{}, Decrypted[T]{}, err
	}
	return blob, Decrypted[T]{ID: current.ID, Props: &next}, nil
}

func seal(id uuid.UUID, props any, key []byte) (domain.EncryptedBlob, error) {
	plaintext, err := bson.Marshal(props)
	if err != nil {
		return domain.EncryptedBlob{}, fmt.Errorf("%w: %v", domain.ErrEncryptFailed, err)
	}
	nonce, ciphertext, err := crypto.Seal(key, plaintext, id[:])
	if err != nil {
		return domain.EncryptedBlob{}, fmt.Errorf("%w: %v", domain.ErrEncryptFailed, err)
	}
	return domain.EncryptedBlob{ID: id, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// MetadataCarrier is implemented by props types whose schema reserves a
// free-form metadata map keyed by field name, e.g. CryptoMessage-derived
// records that accumulate per-sender reaction lists under one key.
type MetadataCarrier interface {
	SetMetadataField(field string, value []byte)
}

// UpdatePropsMetadata merges value into props.metadata[field] without
// requiring the caller to reconstruct the rest of props, then re-encrypts.
// PT pins the pointer-receiver method set so SetMetadataField can actually
// mutate props rather than a copy.
func UpdatePropsMetadata[T any, PT interface {
	*T
	MetadataCarrier
}](current Decrypted[T], key []byte, field string, value []byte) (domain.EncryptedBlob, Decrypted[T], error) {
	return UpdateProps(current, key, func(props *T) {
		PT(props).SetMetadataField(field, value)
	})
}
