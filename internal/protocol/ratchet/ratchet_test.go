package ratchet_test

import (
	"bytes"
	"testing"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/domain/interfaces"
	"pqsession/internal/protocol/ratchet"
)

func makeX25519(t *testing.T) (priv domain.X25519Private, pub domain.X25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

func TestHybridRatchet_OneRoundTrip(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x42}, 32)

	alicePriv, alicePub := makeX25519(t)
	bobPriv, bobPub := makeX25519(t)
	bobKyberPriv, bobKyberPub, err := crypto.GenerateKyber1024()
	if err != nil {
		t.Fatalf("GenerateKyber1024: %v", err)
	}

	m := ratchet.New()

	aliceState, header, err := m.SenderInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{LongTerm: bobPub, Kyber: bobKyberPub},
		interfaces.LocalKeyBundle{LongTerm: alicePriv},
	)
	if err != nil {
		t.Fatalf("SenderInitialization: %v", err)
	}

	bobState, err := m.RecipientInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{LongTerm: alicePub},
		interfaces.LocalKeyBundle{LongTerm: bobPriv, Kyber: bobKyberPriv},
		header,
	)
	if err != nil {
		t.Fatalf("RecipientInitialization: %v", err)
	}

	_, message, err := m.Encrypt(aliceState, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, plaintext, err := m.Decrypt(bobState, message)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "hi" {
		t.Fatalf("got %q, want %q", plaintext, "hi")
	}
}

func TestHybridRatchet_WithOneTimeKeys(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x24}, 32)

	alicePriv, _ := makeX25519(t)
	bobPriv, bobPub := makeX25519(t)
	bobKyberPriv, bobKyberPub, err := crypto.GenerateKyber1024()
	if err != nil {
		t.Fatalf("GenerateKyber1024: %v", err)
	}
	bobOTPriv, bobOTPub := makeX25519(t)

	m := ratchet.New()

	aliceState, header, err := m.SenderInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{LongTerm: bobPub, OneTime: &bobOTPub, Kyber: bobKyberPub},
		interfaces.LocalKeyBundle{LongTerm: alicePriv},
	)
	if err != nil {
		t.Fatalf("SenderInitialization: %v", err)
	}

	bobState, err := m.RecipientInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{},
		interfaces.LocalKeyBundle{LongTerm: bobPriv, OneTime: &bobOTPriv, Kyber: bobKyberPriv},
		header,
	)
	if err != nil {
		t.Fatalf("RecipientInitialization: %v", err)
	}

	_, message, err := m.Encrypt(aliceState, []byte("consumed one-time key"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	_, plaintext, err := m.Decrypt(bobState, message)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "consumed one-time key" {
		t.Fatalf("got %q, want %q", plaintext, "consumed one-time key")
	}
}

func TestHybridRatchet_MultiMessageRatchetsBothDirections(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x11}, 32)

	alicePriv, _ := makeX25519(t)
	bobPriv, bobPub := makeX25519(t)
	bobKyberPriv, bobKyberPub, err := crypto.GenerateKyber1024()
	if err != nil {
		t.Fatalf("GenerateKyber1024: %v", err)
	}

	m := ratchet.New()
	aliceState, header, err := m.SenderInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{LongTerm: bobPub, Kyber: bobKyberPub},
		interfaces.LocalKeyBundle{LongTerm: alicePriv},
	)
	if err != nil {
		t.Fatalf("SenderInitialization: %v", err)
	}
	bobState, err := m.RecipientInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{},
		interfaces.LocalKeyBundle{LongTerm: bobPriv, Kyber: bobKyberPriv},
		header,
	)
	if err != nil {
		t.Fatalf("RecipientInitialization: %v", err)
	}

	aliceState, msg1, err := m.Encrypt(aliceState, []byte("first"))
	if err != nil {
		t.Fatalf("Encrypt 1: %v", err)
	}
	bobState, pt1, err := m.Decrypt(bobState, msg1)
	if err != nil || string(pt1) != "first" {
		t.Fatalf("Decrypt 1: pt=%q err=%v", pt1, err)
	}

	bobState, msg2, err := m.Encrypt(bobState, []byte("reply"))
	if err != nil {
		t.Fatalf("Encrypt 2 (bob replies): %v", err)
	}
	_, pt2, err := m.Decrypt(aliceState, msg2)
	if err != nil || string(pt2) != "reply" {
		t.Fatalf("Decrypt 2: pt=%q err=%v", pt2, err)
	}
}

func TestHybridRatchet_OutOfOrderWithinChain(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x33}, 32)

	alicePriv, _ := makeX25519(t)
	bobPriv, bobPub := makeX25519(t)
	bobKyberPriv, bobKyberPub, err := crypto.GenerateKyber1024()
	if err != nil {
		t.Fatalf("GenerateKyber1024: %v", err)
	}

	m := ratchet.New()
	aliceState, header, err := m.SenderInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{LongTerm: bobPub, Kyber: bobKyberPub},
		interfaces.LocalKeyBundle{LongTerm: alicePriv},
	)
	if err != nil {
		t.Fatalf("SenderInitialization: %v", err)
	}
	bobState, err := m.RecipientInitialization(
		domain.SessionIdentity{},
		sessionKey,
		interfaces.RemoteKeyBundle{},
		interfaces.LocalKeyBundle{LongTerm: bobPriv, Kyber: bobKyberPriv},
		header,
	)
	if err != nil {
		t.Fatalf("RecipientInitialization: %v", err)
	}

	aliceState, msg1, err := m.Encrypt(aliceState, []byte("one"))
	if err != nil {
		t.Fatalf("Encrypt 1: %v", err)
	}
	_, msg2, err := m.Encrypt(aliceState, []byte("two"))
	if err != nil {
		t.Fatalf("Encrypt 2: %v", err)
	}

	// Deliver the second message first: bob must stash the key for index 0
	// and still open index 1, then open index 0 from the stash.
	bobState, pt2, err := m.Decrypt(bobState, msg2)
	if err != nil || string(pt2) != "two" {
		t.Fatalf("Decrypt out-of-order: pt=%q err=%v", pt2, err)
	}
	_, pt1, err := m.Decrypt(bobState, msg1)
	if err != nil || string(pt1) != "one" {
		t.Fatalf("Decrypt skipped: pt=%q err=%v", pt1, err)
	}
}
