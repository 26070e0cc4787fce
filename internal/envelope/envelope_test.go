package envelope_test

import (
	"bytes"
	"testing"

	"pqsession/internal/domain"
	"pqsession/internal/envelope"
)

type testProps struct {
	Name  string `bson:"name"`
	Count int    `bson:"count"`
}

func TestMakeOpenUpdate_RoundTrips(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, 32)

	blob, decrypted, err := envelope.MakeDecryptedModel(testProps{Name: "alice", Count: 1}, key)
	if err != nil {
		t.Fatalf("MakeDecryptedModel: %v", err)
	}
	if decrypted.Props.Name != "alice" {
		t.Fatalf("got %q, want alice", decrypted.Props.Name)
	}

	reopened, err := envelope.Open[testProps](blob, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Props == nil || reopened.Props.Name != "alice" || reopened.Props.Count != 1 {
		t.Fatalf("got %+v, want Name=alice Count=1", reopened.Props)
	}

	updatedBlob, updated, err := envelope.UpdateProps(reopened, key, func(p *testProps) {
		p.Count++
	})
	if err != nil {
		t.Fatalf("UpdateProps: %v", err)
	}
	if updated.Props.Count != 2 {
		t.Fatalf("got count %d, want 2", updated.Props.Count)
	}

	final, err := envelope.Open[testProps](updatedBlob, key)
	if err != nil {
		t.Fatalf("Open after update: %v", err)
	}
	if final.Props.Count != 2 {
		t.Fatalf("got count %d, want 2", final.Props.Count)
	}
}

func TestOpen_WrongKeyYieldsDecryptFailed(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, 32)
	wrongKey := bytes.Repeat([]byte{0x08}, 32)

	blob, _, err := envelope.MakeDecryptedModel(testProps{Name: "alice"}, key)
	if err != nil {
		t.Fatalf("MakeDecryptedModel: %v", err)
	}

	decrypted, err := envelope.Open[testProps](blob, wrongKey)
	if err == nil {
		t.Fatal("expected an error decrypting with the wrong key")
	}
	if decrypted.Props != nil {
		t.Fatal("expected nil Props on decrypt failure")
	}
}

func TestUpdatePropsMetadata_SetsField(t *testing.T) {
	key := bytes.Repeat([]byte{0x09}, 32)

	_, decrypted, err := envelope.MakeDecryptedModel(domain.EncryptedMessage{}, key)
	if err != nil {
		t.Fatalf("MakeDecryptedModel: %v", err)
	}

	_, updated, err := envelope.UpdatePropsMetadata[domain.EncryptedMessage](decrypted, key, "reactions", []byte("thumbs-up"))
	if err != nil {
		t.Fatalf("UpdatePropsMetadata: %v", err)
	}
	if _, ok := updated.Props.Message.Metadata["reactions"]; !ok {
		t.Fatal("expected reactions field to be set")
	}
}
