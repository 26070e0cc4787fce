package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"pqsession/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionContextRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.FetchSessionContext(ctx); err != nil || ok {
		t.Fatalf("expected no session context, got ok=%v err=%v", ok, err)
	}

	blob := domain.EncryptedBlob{Nonce: []byte("nonce"), Ciphertext: []byte("ciphertext")}
	if err := store.CreateSessionContext(ctx, blob); err != nil {
		t.Fatalf("CreateSessionContext: %v", err)
	}

	got, ok, err := store.FetchSessionContext(ctx)
	if err != nil || !ok {
		t.Fatalf("FetchSessionContext: ok=%v err=%v", ok, err)
	}
	if string(got.Nonce) != "nonce" || string(got.Ciphertext) != "ciphertext" {
		t.Fatalf("unexpected blob: %+v", got)
	}

	blob.Ciphertext = []byte("updated")
	if err := store.UpdateSessionContext(ctx, blob); err != nil {
		t.Fatalf("UpdateSessionContext: %v", err)
	}
	got, _, _ = store.FetchSessionContext(ctx)
	if string(got.Ciphertext) != "updated" {
		t.Fatalf("update did not apply: %+v", got)
	}

	if err := store.DeleteSessionContext(ctx); err != nil {
		t.Fatalf("DeleteSessionContext: %v", err)
	}
	if _, ok, _ := store.FetchSessionContext(ctx); ok {
		t.Fatalf("expected session context deleted")
	}
}

func TestDeviceSaltRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.StoreDeviceSalt(ctx, []byte("salt-bytes")); err != nil {
		t.Fatalf("StoreDeviceSalt: %v", err)
	}
	got, ok, err := store.FetchDeviceSalt(ctx)
	if err != nil || !ok || string(got) != "salt-bytes" {
		t.Fatalf("FetchDeviceSalt: got=%q ok=%v err=%v", got, ok, err)
	}
	if err := store.DeleteDeviceSalt(ctx); err != nil {
		t.Fatalf("DeleteDeviceSalt: %v", err)
	}
	if _, ok, _ := store.FetchDeviceSalt(ctx); ok {
		t.Fatalf("expected device salt deleted")
	}
}

func TestIdentityCRUD(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	blob := domain.EncryptedBlob{ID: id, Nonce: []byte("n"), Ciphertext: []byte("c1")}
	if err := store.CreateIdentity(ctx, blob); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	all, err := store.FetchAllIdentities(ctx)
	if err != nil || len(all) != 1 || all[0].ID != id {
		t.Fatalf("FetchAllIdentities: %+v err=%v", all, err)
	}

	blob.Ciphertext = []byte("c2")
	if err := store.UpdateIdentity(ctx, blob); err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}
	all, _ = store.FetchAllIdentities(ctx)
	if string(all[0].Ciphertext) != "c2" {
		t.Fatalf("update did not apply: %+v", all[0])
	}

	if err := store.DeleteIdentity(ctx, id); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	all, _ = store.FetchAllIdentities(ctx)
	if len(all) != 0 {
		t.Fatalf("expected identity deleted, got %+v", all)
	}
}

func TestMessagesByCommunicationAndSharedID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	comm := uuid.New()
	other := uuid.New()
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		blob := domain.EncryptedBlob{ID: ids[i], Nonce: []byte("n"), Ciphertext: []byte("c")}
		shared := domain.SharedID("")
		if i == 0 {
			shared = "shared-1"
		}
		if err := store.CreateMessage(ctx, blob, comm, shared); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	// A message in a different conversation must not show up in comm's stream/count.
	if err := store.CreateMessage(ctx, domain.EncryptedBlob{ID: uuid.New(), Nonce: []byte("n"), Ciphertext: []byte("c")}, other, ""); err != nil {
		t.Fatalf("CreateMessage (other): %v", err)
	}

	count, err := store.CountMessagesByCommunication(ctx, comm)
	if err != nil || count != 3 {
		t.Fatalf("CountMessagesByCommunication: count=%d err=%v", count, err)
	}

	var seen int
	for blob, err := range store.StreamMessagesByCommunication(ctx, comm) {
		if err != nil {
			t.Fatalf("StreamMessagesByCommunication: %v", err)
		}
		seen++
		_ = blob
	}
	if seen != 3 {
		t.Fatalf("expected 3 streamed messages, got %d", seen)
	}

	blob, ok, err := store.FetchMessageBySharedID(ctx, "shared-1")
	if err != nil || !ok || blob.ID != ids[0] {
		t.Fatalf("FetchMessageBySharedID: blob=%+v ok=%v err=%v", blob, ok, err)
	}

	if err := store.DeleteMessage(ctx, ids[0]); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, ok, _ := store.FetchMessageByID(ctx, ids[0]); ok {
		t.Fatalf("expected message deleted")
	}
}

func TestMediaJobsByRecipientAndSyncID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	recipient := uuid.New()
	sync := uuid.New()
	id := uuid.New()
	blob := domain.EncryptedBlob{ID: id, Nonce: []byte("n"), Ciphertext: []byte("c")}
	if err := store.CreateMediaJob(ctx, blob, recipient, sync); err != nil {
		t.Fatalf("CreateMediaJob: %v", err)
	}

	byRecipient, err := store.FetchMediaJobsByRecipient(ctx, recipient)
	if err != nil || len(byRecipient) != 1 {
		t.Fatalf("FetchMediaJobsByRecipient: %+v err=%v", byRecipient, err)
	}

	bySync, ok, err := store.FetchMediaJobBySyncID(ctx, sync)
	if err != nil || !ok || bySync.ID != id {
		t.Fatalf("FetchMediaJobBySyncID: %+v ok=%v err=%v", bySync, ok, err)
	}

	if err := store.DeleteMediaJob(ctx, id); err != nil {
		t.Fatalf("DeleteMediaJob: %v", err)
	}
	all, _ := store.FetchAllMediaJobs(ctx)
	if len(all) != 0 {
		t.Fatalf("expected media job deleted, got %+v", all)
	}
}
