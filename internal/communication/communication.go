// Package communication implements the find-or-create, atomic-increment,
// and notify bookkeeping a Communication record needs. Every mutation here
// runs inside the Ratchet Driver's already-serialized call path (the
// single job runner), so the read-modify-write
// sequences below need no extra locking to be race-free.
package communication

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pqsession/internal/domain"
	"pqsession/internal/envelope"
)

// Bookkeeper owns Communication persistence and the receiver notifications
// that follow every create/update.
type Bookkeeper struct {
	store       domain.SessionStore
	databaseKey []byte
	receiver    domain.EventReceiver
}

func New(store domain.SessionStore, databaseKey []byte, receiver domain.EventReceiver) *Bookkeeper {
	return &Bookkeeper{store: store, databaseKey: databaseKey, receiver: receiver}
}

// loadAll decrypts every persisted Communication, skipping corrupt records
// rather than failing the whole scan.
func (b *Bookkeeper) loadAll(ctx context.Context) ([]envelope.Decrypted[domain.Communication], error) {
	blobs, err := b.store.FetchAllCommunications(ctx)
	if err != nil {
		return nil, fmt.Errorf("communication: fetch all: %w", err)
	}
	out := make([]envelope.Decrypted[domain.Communication], 0, len(blobs))
	for _, blob := range blobs {
		decoded, err := envelope.Open[domain.Communication](blob, b.databaseKey)
		if err != nil || decoded.Props == nil {
			continue
		}
		out = append(out, decoded)
	}
	return out, nil
}

// FindByType returns the first Communication whose CommunicationType
// matches typ.
func (b *Bookkeeper) FindByType(ctx context.Context, typ domain.CommunicationType) (envelope.Decrypted[domain.Communication], bool, error) {
	all, err := b.loadAll(ctx)
	if err != nil {
		return envelope.Decrypted[domain.Communication]{}, false, err
	}
	for _, c := range all {
		if c.Props.CommunicationType.Equal(typ) {
			return c, true, nil
		}
	}
	return envelope.Decrypted[domain.Communication]{}, false, nil
}

// FindOrCreate returns the existing Communication matching typ, or
// persists and returns a freshly created one with members/metadata if none
// exists. created reports which path ran.
func (b *Bookkeeper) FindOrCreate(ctx context.Context, typ domain.CommunicationType, members []domain.SecretName, metadata domain.Metadata) (envelope.Decrypted[domain.Communication], bool, error) {
	existing, ok, err := b.FindByType(ctx, typ)
	if err != nil {
		return envelope.Decrypted[domain.Communication]{}, false, err
	}
	if ok {
		return existing, false, nil
	}

	model := domain.Communication{
		ID:                domain.NewUUID(),
		Members:           members,
		Metadata:          metadata,
		CommunicationType: typ,
	}
	blob, decoded, err := envelope.MakeDecryptedModelWithID(model.ID, model, b.databaseKey)
	if err != nil {
		return envelope.Decrypted[domain.Communication]{}, false, fmt.Errorf("communication: encrypt new: %w", err)
	}
	if err := b.store.CreateCommunication(ctx, blob); err != nil {
		return envelope.Decrypted[domain.Communication]{}, false, fmt.Errorf("communication: persist new: %w", err)
	}

	if b.receiver != nil {
		b.receiver.UpdatedCommunication(*decoded.Props, members)
		if typ.Kind == domain.CommunicationKindChannel {
			b.receiver.CreatedChannel(*decoded.Props)
		}
	}
	return decoded, true, nil
}

// IncrementMessageCount performs the read-modify-write atomic increment a
// new message requires, returning the post-increment count (the value
// EncryptedMessage.SequenceNumber must carry) and the updated model.
func (b *Bookkeeper) IncrementMessageCount(ctx context.Context, current envelope.Decrypted[domain.Communication]) (envelope.Decrypted[domain.Communication], int64, error) {
	blob, updated, err := envelope.UpdateProps(current, b.databaseKey, func(c *domain.Communication) {
		c.MessageCount++
	})
	if err != nil {
		return envelope.Decrypted[domain.Communication]{}, 0, fmt.Errorf("communication: increment: %w", err)
	}
	if err := b.store.UpdateCommunication(ctx, blob); err != nil {
		return envelope.Decrypted[domain.Communication]{}, 0, fmt.Errorf("communication: persist increment: %w", err)
	}
	if b.receiver != nil {
		b.receiver.UpdatedCommunication(*updated.Props, updated.Props.Members)
	}
	return updated, updated.Props.MessageCount, nil
}

// SetSharedID stores the shared conversation identifier a
// communicationSynchronization control message carries.
func (b *Bookkeeper) SetSharedID(ctx context.Context, current envelope.Decrypted[domain.Communication], sharedID uuid.UUID) error {
	blob, updated, err := envelope.UpdateProps(current, b.databaseKey, func(c *domain.Communication) {
		c.SharedID = &sharedID
	})
	if err != nil {
		return fmt.Errorf("communication: set shared id: %w", err)
	}
	if err := b.store.UpdateCommunication(ctx, blob); err != nil {
		return fmt.Errorf("communication: persist shared id: %w", err)
	}
	if b.receiver != nil {
		b.receiver.UpdatedCommunication(*updated.Props, updated.Props.Members)
	}
	return nil
}
