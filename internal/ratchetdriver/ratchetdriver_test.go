package ratchetdriver_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"pqsession/internal/communication"
	"pqsession/internal/crypto"
	"pqsession/internal/dispatcher"
	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/identityresolver"
	"pqsession/internal/protocol/ratchet"
	"pqsession/internal/ratchetdriver"
	"pqsession/internal/store/memstore"
	"pqsession/internal/transport/memtransport"
)

// device bundles everything one simulated participant needs: its own
// identity material, a store/transport pair, and the Driver wired against
// them, so a test can drive both ends of a handshake independently.
type device struct {
	user        domain.SessionUser
	store       *memstore.Store
	transport   *memtransport.Transport
	driver      *ratchetdriver.Driver
	databaseKey []byte
	signingPub  domain.Ed25519Public
	signingPriv domain.Ed25519Private
	longTermPub domain.X25519Public
}

// newDevice creates one participant with a freshly generated key set, seeds
// its SessionContext, and publishes its signed UserConfiguration (optionally
// carrying a published one-time key pair) to the shared network.
func newDevice(t *testing.T, network *memtransport.Network, secretName domain.SecretName, withOneTimeKeys bool) *device {
	t.Helper()
	ctx := context.Background()

	signingPriv, signingPub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	longTermPriv, longTermPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	_, finalKyberPub, err := crypto.GenerateKyber1024()
	if err != nil {
		t.Fatalf("GenerateKyber1024 (final): %v", err)
	}

	user := domain.SessionUser{SecretName: secretName, DeviceID: domain.NewUUID()}
	deviceKeys := domain.DeviceKeys{
		PrivateLongTermKey:   longTermPriv,
		PrivateSigningKey:    signingPriv,
		FinalKyberPrivateKey: nil,
	}

	config := domain.UserConfiguration{
		SecretName:          secretName,
		SigningPublicKey:    signingPub,
		LongTermPublicKey:   longTermPub,
		FinalKyberPublicKey: finalKyberPub,
		VerifiedDevices: []domain.VerifiedDevice{
			{DeviceID: user.DeviceID, DeviceName: string(secretName) + "-device", IsMaster: true},
		},
	}
	// FinalKyberPrivateKey mirrors FinalKyberPublicKey above; regenerate the
	// pair together so the device actually holds the matching private half.
	finalKyberPriv, finalKyberPub2, err := crypto.GenerateKyber1024()
	if err != nil {
		t.Fatalf("GenerateKyber1024: %v", err)
	}
	deviceKeys.FinalKyberPrivateKey = finalKyberPriv
	config.FinalKyberPublicKey = finalKyberPub2

	if withOneTimeKeys {
		oneTimeID := domain.NewUUID()
		oneTimePriv, oneTimePub, err := crypto.GenerateX25519()
		if err != nil {
			t.Fatalf("GenerateX25519 (one-time): %v", err)
		}
		deviceKeys.PrivateOneTimeKeys = []domain.OneTimeKeyPair{{ID: oneTimeID, Scalar: oneTimePriv}}
		signedOneTime := domain.SignedOneTimeKeyPublic{
			OneTimeKeyPublic: domain.OneTimeKeyPublic{ID: oneTimeID, Key: oneTimePub},
			Signature:        crypto.SignEd25519(signingPriv, oneTimePub.Slice()),
		}
		config.SignedOneTimeKeys = []domain.SignedOneTimeKeyPublic{signedOneTime}
		raw, err := bson.Marshal(signedOneTime)
		if err != nil {
			t.Fatalf("marshal signed one-time key: %v", err)
		}

		kyberID := domain.NewUUID()
		kyberPriv, kyberPub, err := crypto.GenerateKyber1024()
		if err != nil {
			t.Fatalf("GenerateKyber1024 (one-time): %v", err)
		}
		deviceKeys.PrivateKyberOneTimeKeys = []domain.KyberOneTimeKeyPair{{ID: kyberID, Secret: kyberPriv}}
		signedKyber := domain.SignedKyberOneTimeKeyPublic{
			KyberOneTimeKeyPublic: domain.KyberOneTimeKeyPublic{ID: kyberID, Key: kyberPub},
			Signature:             crypto.SignEd25519(signingPriv, kyberPub),
		}
		config.SignedKyberOneTimeKeys = []domain.SignedKyberOneTimeKeyPublic{signedKyber}
		rawKyber, err := bson.Marshal(signedKyber)
		if err != nil {
			t.Fatalf("marshal signed kyber key: %v", err)
		}

		transport := memtransport.New(network)
		if err := transport.UpdateOneTimeKeys(ctx, secretName, user.DeviceID, domain.KeysTypeCurve, [][]byte{raw}); err != nil {
			t.Fatalf("UpdateOneTimeKeys (curve): %v", err)
		}
		if err := transport.UpdateOneTimeKeys(ctx, secretName, user.DeviceID, domain.KeysTypeKyber, [][]byte{rawKyber}); err != nil {
			t.Fatalf("UpdateOneTimeKeys (kyber): %v", err)
		}
	}

	config.ConfigurationSignature = crypto.SignEd25519(signingPriv, config.SignedPayload())

	transport := memtransport.New(network)
	if err := transport.PublishUserConfiguration(ctx, config, domain.NewUUID()); err != nil {
		t.Fatalf("PublishUserConfiguration: %v", err)
	}

	store := memstore.New()
	databaseKey := make([]byte, 32)
	for i := range databaseKey {
		databaseKey[i] = byte(len(secretName) + i)
	}

	sessionContext := domain.SessionContext{
		SessionUser:           user,
		DeviceKeys:            deviceKeys,
		LastUserConfiguration: config,
	}
	blob, _, err := envelope.MakeDecryptedModelWithID(domain.NewUUID(), sessionContext, databaseKey)
	if err != nil {
		t.Fatalf("seal session context: %v", err)
	}
	if err := store.CreateSessionContext(ctx, blob); err != nil {
		t.Fatalf("CreateSessionContext: %v", err)
	}

	resolver := identityresolver.New(store, transport, databaseKey, user)
	recv := &recordingReceiver{}
	comms := communication.New(store, databaseKey, recv)
	dispatch := dispatcher.New(store, databaseKey, comms, recv, nil, user)
	driver := ratchetdriver.New(store, transport, databaseKey, ratchet.New(), resolver, dispatch, nil, user)

	return &device{
		user:        user,
		store:       store,
		transport:   transport,
		driver:      driver,
		databaseKey: databaseKey,
		signingPub:  signingPub,
		signingPriv: signingPriv,
		longTermPub: longTermPub,
	}
}

type recordingReceiver struct {
	createdMessages []domain.EncryptedMessage
}

var _ domain.EventReceiver = (*recordingReceiver)(nil)

func (r *recordingReceiver) MessageCreated(m domain.EncryptedMessage) {
	r.createdMessages = append(r.createdMessages, m)
}
func (r *recordingReceiver) MessageUpdated(domain.EncryptedMessage) {}
func (r *recordingReceiver) MessageDeleted(uuid.UUID)               {}
func (r *recordingReceiver) ContactCreated(domain.SecretName)       {}
func (r *recordingReceiver) ContactRemoved(domain.SecretName)       {}
func (r *recordingReceiver) ContactUpdated(domain.SecretName)       {}
func (r *recordingReceiver) ContactMetadataChanged(domain.SecretName, domain.Metadata) {}
func (r *recordingReceiver) Synchronize(domain.SecretName, bool)                      {}
func (r *recordingReceiver) TransportContactMetadata(domain.SecretName, []byte)       {}
func (r *recordingReceiver) UpdatedCommunication(domain.Communication, []domain.SecretName) {}
func (r *recordingReceiver) CreatedChannel(domain.Communication)                            {}
func (r *recordingReceiver) LocalNudge(domain.SecretName, domain.DeviceID, domain.CryptoMessage) {}

func TestHandleWriteThenStreamMessage_CompletesHandshakeAndDelivers(t *testing.T) {
	ctx := context.Background()
	network := memtransport.NewNetwork()

	// Both sides carry one-time key bundles, so the handshake mixes all
	// three classical legs plus the KEM leg.
	alice := newDevice(t, network, "alice", true)
	bob := newDevice(t, network, "bob", true)

	// Each side must resolve the other's identity before it can route
	// through it: alice needs bob's identity row to exist so she can target
	// RecipientIdentityID, and bob needs alice's identity row to exist so
	// handleStreamMessage's signature check has a public key to verify
	// against.
	aliceResolver := identityresolver.New(alice.store, alice.transport, alice.databaseKey, alice.user)
	bobIdentitiesForAlice, err := aliceResolver.RefreshIdentities(ctx, "bob")
	if err != nil {
		t.Fatalf("alice refresh bob identities: %v", err)
	}
	if len(bobIdentitiesForAlice) != 1 {
		t.Fatalf("expected 1 identity for bob, got %d", len(bobIdentitiesForAlice))
	}
	bobIdentityID := bobIdentitiesForAlice[0].ID

	bobResolver := identityresolver.New(bob.store, bob.transport, bob.databaseKey, bob.user)
	if _, err := bobResolver.RefreshIdentities(ctx, "alice"); err != nil {
		t.Fatalf("bob refresh alice identities: %v", err)
	}

	outbound := domain.OutboundTaskMessage{
		RecipientIdentityID: bobIdentityID,
		Message: domain.CryptoMessage{
			Text:        "hello bob",
			SentDate:    time.Now(),
			Recipient:   domain.MessageRecipient{Kind: domain.RecipientPersonalMessage},
			MessageType: domain.MessageKindNormal,
		},
		SharedID: "shared-1",
	}
	task := domain.OutboundTask(outbound)
	if err := alice.driver.HandleTask(ctx, task); err != nil {
		t.Fatalf("alice HandleTask (outbound): %v", err)
	}

	deliveries := network.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	delivery := deliveries[0]

	inbound := domain.InboundTaskMessage{
		Message:          delivery.Message,
		SenderSecretName: "alice",
		SenderDeviceID:   alice.user.DeviceID,
		SharedMessageID:  delivery.Metadata.SharedMessageID,
	}
	if err := bob.driver.HandleTask(ctx, domain.InboundTask(inbound)); err != nil {
		t.Fatalf("bob HandleTask (inbound): %v", err)
	}

	blobs, err := bob.store.FetchAllCommunications(ctx)
	if err != nil {
		t.Fatalf("FetchAllCommunications: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("expected bob to have persisted 1 communication, got %d", len(blobs))
	}

	identityBlobs, err := bob.store.FetchAllIdentities(ctx)
	if err != nil {
		t.Fatalf("FetchAllIdentities: %v", err)
	}
	found := false
	for _, blob := range identityBlobs {
		decoded, err := envelope.Open[domain.SessionIdentity](blob, bob.databaseKey)
		if err != nil || decoded.Props == nil {
			continue
		}
		if decoded.Props.SecretName == "alice" && decoded.Props.Initialized() {
			found = true
		}
	}
	if !found {
		t.Fatal("expected bob's identity for alice to be initialized after the handshake")
	}
}
