package x3dh_test

import (
	"bytes"
	"testing"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/protocol/x3dh"
)

func makeX25519(t *testing.T) (priv domain.X25519Private, pub domain.X25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

func TestSessionKey_NoOneTime(t *testing.T) {
	aliceLTPriv, aliceLTPub := makeX25519(t)
	bobLTPriv, bobLTPub := makeX25519(t)

	aliceKey, err := x3dh.InitiatorSessionKey(aliceLTPriv, nil, bobLTPub, nil)
	if err != nil {
		t.Fatalf("InitiatorSessionKey: %v", err)
	}

	bobKey, err := x3dh.ResponderSessionKey(bobLTPriv, nil, aliceLTPub, nil)
	if err != nil {
		t.Fatalf("ResponderSessionKey: %v", err)
	}

	if !bytes.Equal(aliceKey, bobKey) {
		t.Fatal("session keys differ (no one-time key)")
	}
}

func TestSessionKey_WithBothOneTimeKeys(t *testing.T) {
	aliceLTPriv, aliceLTPub := makeX25519(t)
	bobLTPriv, bobLTPub := makeX25519(t)
	aliceOTPriv, aliceOTPub := makeX25519(t)
	bobOTPriv, bobOTPub := makeX25519(t)

	// Alice is the sender: she consumes Bob's published one-time key and
	// mixes in her own.
	aliceKey, err := x3dh.InitiatorSessionKey(aliceLTPriv, &aliceOTPriv, bobLTPub, &bobOTPub)
	if err != nil {
		t.Fatalf("InitiatorSessionKey: %v", err)
	}

	// Bob is the recipient: header carries Alice's one-time public key,
	// and he looks up his own one-time private key by the header's id.
	bobKey, err := x3dh.ResponderSessionKey(bobLTPriv, &bobOTPriv, aliceLTPub, &aliceOTPub)
	if err != nil {
		t.Fatalf("ResponderSessionKey: %v", err)
	}

	if !bytes.Equal(aliceKey, bobKey) {
		t.Fatal("session keys differ (with both one-time keys)")
	}
}

func TestSessionKey_OnlyLocalOneTime(t *testing.T) {
	aliceLTPriv, aliceLTPub := makeX25519(t)
	bobLTPriv, bobLTPub := makeX25519(t)
	aliceOTPriv, aliceOTPub := makeX25519(t)

	aliceKey, err := x3dh.InitiatorSessionKey(aliceLTPriv, &aliceOTPriv, bobLTPub, nil)
	if err != nil {
		t.Fatalf("InitiatorSessionKey: %v", err)
	}

	bobKey, err := x3dh.ResponderSessionKey(bobLTPriv, nil, aliceLTPub, &aliceOTPub)
	if err != nil {
		t.Fatalf("ResponderSessionKey: %v", err)
	}

	if !bytes.Equal(aliceKey, bobKey) {
		t.Fatal("session keys differ (sender-only one-time key)")
	}
}
