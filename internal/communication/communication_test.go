package communication_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"

	"pqsession/internal/communication"
	"pqsession/internal/domain"
	"pqsession/internal/store/memstore"
)

type recordingReceiver struct {
	updated []domain.Communication
	created []domain.Communication
}

func (r *recordingReceiver) MessageCreated(domain.EncryptedMessage)                  {}
func (r *recordingReceiver) MessageUpdated(domain.EncryptedMessage)                  {}
func (r *recordingReceiver) MessageDeleted(uuid.UUID)                                {}
func (r *recordingReceiver) ContactCreated(domain.SecretName)                        {}
func (r *recordingReceiver) ContactRemoved(domain.SecretName)                        {}
func (r *recordingReceiver) ContactUpdated(domain.SecretName)                        {}
func (r *recordingReceiver) ContactMetadataChanged(domain.SecretName, domain.Metadata) {}
func (r *recordingReceiver) Synchronize(domain.SecretName, bool)                     {}
func (r *recordingReceiver) TransportContactMetadata(domain.SecretName, []byte)       {}
func (r *recordingReceiver) UpdatedCommunication(c domain.Communication, members []domain.SecretName) {
	r.updated = append(r.updated, c)
}
func (r *recordingReceiver) CreatedChannel(c domain.Communication) {
	r.created = append(r.created, c)
}
func (r *recordingReceiver) LocalNudge(domain.SecretName, domain.DeviceID, domain.CryptoMessage) {}

func TestFindOrCreate_CreatesOnce(t *testing.T) {
	st := memstore.New()
	key := bytes.Repeat([]byte{0x01}, 32)
	recv := &recordingReceiver{}
	b := communication.New(st, key, recv)

	typ := domain.NicknameType("alice")
	first, created, err := b.FindOrCreate(context.Background(), typ, []domain.SecretName{"alice"}, nil)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first call")
	}

	second, created2, err := b.FindOrCreate(context.Background(), typ, []domain.SecretName{"alice"}, nil)
	if err != nil {
		t.Fatalf("FindOrCreate (second): %v", err)
	}
	if created2 {
		t.Fatal("expected created=false on second call")
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same communication id, got %v and %v", first.ID, second.ID)
	}
	if len(recv.updated) != 1 {
		t.Fatalf("expected exactly one UpdatedCommunication notification, got %d", len(recv.updated))
	}
}

func TestIncrementMessageCount_Sequential(t *testing.T) {
	st := memstore.New()
	key := bytes.Repeat([]byte{0x02}, 32)
	b := communication.New(st, key, nil)

	current, _, err := b.FindOrCreate(context.Background(), domain.ChannelType("general"), nil, nil)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	current, n1, err := b.IncrementMessageCount(context.Background(), current)
	if err != nil {
		t.Fatalf("IncrementMessageCount: %v", err)
	}
	if n1 != 1 {
		t.Fatalf("got %d, want 1", n1)
	}

	_, n2, err := b.IncrementMessageCount(context.Background(), current)
	if err != nil {
		t.Fatalf("IncrementMessageCount: %v", err)
	}
	if n2 != 2 {
		t.Fatalf("got %d, want 2", n2)
	}
}
