package identityresolver_test

import (
	"context"
	"testing"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/identityresolver"
	"pqsession/internal/store/memstore"
	"pqsession/internal/transport/memtransport"
)

func signedConfiguration(t *testing.T, secretName domain.SecretName, devices []domain.VerifiedDevice) (domain.UserConfiguration, domain.Ed25519Private) {
	t.Helper()
	signingPriv, signingPub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	_, longTermPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}

	config := domain.UserConfiguration{
		SecretName:        secretName,
		SigningPublicKey:  signingPub,
		LongTermPublicKey: longTermPub,
		VerifiedDevices:   devices,
	}
	config.ConfigurationSignature = crypto.SignEd25519(signingPriv, config.SignedPayload())
	return config, signingPriv
}

func TestRefreshIdentities_CreatesNewVerifiedDevices(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	network := memtransport.NewNetwork()
	transport := memtransport.New(network)

	me := domain.SessionUser{SecretName: "me", DeviceID: domain.NewUUID()}
	bobDevice := domain.NewUUID()
	config, _ := signedConfiguration(t, "bob", []domain.VerifiedDevice{
		{DeviceID: bobDevice, DeviceName: "bob-phone"},
	})
	if err := transport.PublishUserConfiguration(ctx, config, domain.NewUUID()); err != nil {
		t.Fatalf("PublishUserConfiguration: %v", err)
	}

	resolver := identityresolver.New(store, transport, make([]byte, 32), me)
	identities, err := resolver.RefreshIdentities(ctx, "bob")
	if err != nil {
		t.Fatalf("RefreshIdentities: %v", err)
	}
	if len(identities) != 1 || identities[0].DeviceID != bobDevice {
		t.Fatalf("got %+v, want one identity for %v", identities, bobDevice)
	}

	blobs, err := store.FetchAllIdentities(ctx)
	if err != nil {
		t.Fatalf("FetchAllIdentities: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("got %d persisted identities, want 1", len(blobs))
	}
}

func TestRefreshIdentities_PrunesStaleDevice(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	network := memtransport.NewNetwork()
	transport := memtransport.New(network)

	me := domain.SessionUser{SecretName: "me", DeviceID: domain.NewUUID()}
	staleDevice := domain.NewUUID()
	currentDevice := domain.NewUUID()

	firstConfig, _ := signedConfiguration(t, "bob", []domain.VerifiedDevice{{DeviceID: staleDevice}})
	if err := transport.PublishUserConfiguration(ctx, firstConfig, domain.NewUUID()); err != nil {
		t.Fatalf("PublishUserConfiguration: %v", err)
	}
	resolver := identityresolver.New(store, transport, make([]byte, 32), me)
	if _, err := resolver.RefreshIdentities(ctx, "bob"); err != nil {
		t.Fatalf("RefreshIdentities (first): %v", err)
	}

	secondConfig, _ := signedConfiguration(t, "bob", []domain.VerifiedDevice{{DeviceID: currentDevice}})
	if err := transport.PublishUserConfiguration(ctx, secondConfig, domain.NewUUID()); err != nil {
		t.Fatalf("PublishUserConfiguration: %v", err)
	}
	identities, err := resolver.RefreshIdentities(ctx, "bob")
	if err != nil {
		t.Fatalf("RefreshIdentities (second): %v", err)
	}
	if len(identities) != 1 || identities[0].DeviceID != currentDevice {
		t.Fatalf("got %+v, want only %v", identities, currentDevice)
	}
}

func TestRefreshIdentities_BadSignatureFails(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	network := memtransport.NewNetwork()
	transport := memtransport.New(network)

	me := domain.SessionUser{SecretName: "me", DeviceID: domain.NewUUID()}
	config, _ := signedConfiguration(t, "bob", []domain.VerifiedDevice{{DeviceID: domain.NewUUID()}})
	config.ConfigurationSignature[0] ^= 0xFF // corrupt the signature
	if err := transport.PublishUserConfiguration(ctx, config, domain.NewUUID()); err != nil {
		t.Fatalf("PublishUserConfiguration: %v", err)
	}

	resolver := identityresolver.New(store, transport, make([]byte, 32), me)
	if _, err := resolver.RefreshIdentities(ctx, "bob"); err != domain.ErrInvalidSignature {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

func TestRefreshIdentities_OwnNamePrunesRevokedSibling(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	network := memtransport.NewNetwork()
	transport := memtransport.New(network)

	me := domain.SessionUser{SecretName: "me", DeviceID: domain.NewUUID()}
	revokedSibling := domain.NewUUID()
	newSibling := domain.NewUUID()

	firstConfig, _ := signedConfiguration(t, "me", []domain.VerifiedDevice{
		{DeviceID: me.DeviceID, IsMaster: true},
		{DeviceID: revokedSibling, DeviceName: "old-laptop"},
	})
	if err := transport.PublishUserConfiguration(ctx, firstConfig, domain.NewUUID()); err != nil {
		t.Fatalf("PublishUserConfiguration: %v", err)
	}
	resolver := identityresolver.New(store, transport, make([]byte, 32), me)
	identities, err := resolver.RefreshIdentities(ctx, "me")
	if err != nil {
		t.Fatalf("RefreshIdentities (first): %v", err)
	}
	if len(identities) != 1 || identities[0].DeviceID != revokedSibling {
		t.Fatalf("got %+v, want only sibling %v (never our own device)", identities, revokedSibling)
	}

	// The old laptop drops off the published device list, replaced by a
	// new sibling: its identity must be pruned on the next refresh.
	secondConfig, _ := signedConfiguration(t, "me", []domain.VerifiedDevice{
		{DeviceID: me.DeviceID, IsMaster: true},
		{DeviceID: newSibling, DeviceName: "new-laptop"},
	})
	if err := transport.PublishUserConfiguration(ctx, secondConfig, domain.NewUUID()); err != nil {
		t.Fatalf("PublishUserConfiguration: %v", err)
	}
	identities, err = resolver.RefreshIdentities(ctx, "me")
	if err != nil {
		t.Fatalf("RefreshIdentities (second): %v", err)
	}
	if len(identities) != 1 || identities[0].DeviceID != newSibling {
		t.Fatalf("got %+v, want only %v after the revoked sibling is pruned", identities, newSibling)
	}

	blobs, err := store.FetchAllIdentities(ctx)
	if err != nil {
		t.Fatalf("FetchAllIdentities: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("got %d persisted identities, want the revoked sibling deleted", len(blobs))
	}
}
