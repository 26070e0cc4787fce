package dispatcher_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"

	"pqsession/internal/communication"
	"pqsession/internal/dispatcher"
	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/friendship"
	"pqsession/internal/store/memstore"
)

type recordingReceiver struct {
	createdMessages []domain.EncryptedMessage
	updatedMessages []domain.EncryptedMessage
	deletedMessages []uuid.UUID
	contactsCreated []domain.SecretName
	contactsUpdated []domain.SecretName
	metadataChanges map[domain.SecretName]domain.Metadata
	nudges          int
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{metadataChanges: make(map[domain.SecretName]domain.Metadata)}
}

func (r *recordingReceiver) MessageCreated(m domain.EncryptedMessage) {
	r.createdMessages = append(r.createdMessages, m)
}
func (r *recordingReceiver) MessageUpdated(m domain.EncryptedMessage) {
	r.updatedMessages = append(r.updatedMessages, m)
}
func (r *recordingReceiver) MessageDeleted(id uuid.UUID) {
	r.deletedMessages = append(r.deletedMessages, id)
}
func (r *recordingReceiver) ContactCreated(name domain.SecretName) {
	r.contactsCreated = append(r.contactsCreated, name)
}
func (r *recordingReceiver) ContactRemoved(domain.SecretName) {}
func (r *recordingReceiver) ContactUpdated(name domain.SecretName) {
	r.contactsUpdated = append(r.contactsUpdated, name)
}
func (r *recordingReceiver) ContactMetadataChanged(name domain.SecretName, m domain.Metadata) {
	r.metadataChanges[name] = m
}
func (r *recordingReceiver) Synchronize(domain.SecretName, bool)               {}
func (r *recordingReceiver) TransportContactMetadata(domain.SecretName, []byte) {}
func (r *recordingReceiver) UpdatedCommunication(domain.Communication, []domain.SecretName) {}
func (r *recordingReceiver) CreatedChannel(domain.Communication)                           {}
func (r *recordingReceiver) LocalNudge(domain.SecretName, domain.DeviceID, domain.CryptoMessage) {
	r.nudges++
}

type recordingDelegate struct {
	friendshipChanges int
	edits             []string
}

func (d *recordingDelegate) SynchronizeCommunication(domain.SecretName, domain.SharedID) {}
func (d *recordingDelegate) RequestFriendshipStateChange(domain.SecretName, []byte, domain.FriendshipMetadata, domain.FriendshipMetadata) {
	d.friendshipChanges++
}
func (d *recordingDelegate) DeliveryStateChanged(string, domain.DeliveryState) {}
func (d *recordingDelegate) ContactCreated(domain.SecretName)                 {}
func (d *recordingDelegate) RequestMetadata(domain.SecretName) domain.Metadata { return nil }
func (d *recordingDelegate) EditMessage(id string, text string) {
	d.edits = append(d.edits, id+":"+text)
}
func (d *recordingDelegate) ShouldPersist([]byte) bool { return true }
func (d *recordingDelegate) RetrieveUserInfo([]byte) (domain.SecretName, domain.DeviceID, bool) {
	return "", uuid.Nil, false
}
func (d *recordingDelegate) UpdateCryptoMessageMetadata(m domain.CryptoMessage, _ domain.SharedID) domain.CryptoMessage {
	return m
}
func (d *recordingDelegate) UpdateEncryptableMessageMetadata(m domain.CryptoMessage, _ []byte, _ domain.SessionIdentity, _ domain.MessageRecipient) domain.CryptoMessage {
	return m
}
func (d *recordingDelegate) ShouldFinishCommunicationSynchronization([]byte) bool { return true }
func (d *recordingDelegate) ProcessUnpersistedMessage(domain.CryptoMessage, domain.SecretName, domain.DeviceID) bool {
	return true
}

func newHarness(t *testing.T) (*dispatcher.Dispatcher, *memstore.Store, []byte, *recordingReceiver, *recordingDelegate) {
	t.Helper()
	store := memstore.New()
	key := bytes.Repeat([]byte{0x03}, 32)
	recv := newRecordingReceiver()
	del := &recordingDelegate{}
	comms := communication.New(store, key, recv)
	me := domain.SessionUser{SecretName: "me", DeviceID: uuid.New()}
	d := dispatcher.New(store, key, comms, recv, del, me)
	return d, store, key, recv, del
}

func TestDispatch_NormalChannelMessagePersistsAndIncrementsCount(t *testing.T) {
	d, store, key, recv, _ := newHarness(t)
	ctx := context.Background()

	comms := communication.New(store, key, nil)
	channel, _, err := comms.FindOrCreate(ctx, domain.ChannelType("general"), []domain.SecretName{"me", "alice"}, nil)
	if err != nil {
		t.Fatalf("FindOrCreate channel: %v", err)
	}
	_ = channel

	msg := domain.CryptoMessage{
		Text:        "hello",
		SentDate:    time.Now(),
		Recipient:   domain.MessageRecipient{Kind: domain.RecipientChannel, Name: "general"},
		MessageType: domain.MessageKindNormal,
	}
	if err := d.Dispatch(ctx, "alice", uuid.New(), msg, "shared-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(recv.createdMessages) != 1 {
		t.Fatalf("expected 1 created message notification, got %d", len(recv.createdMessages))
	}
	if recv.createdMessages[0].SequenceNumber != 1 {
		t.Fatalf("expected sequence number 1, got %d", recv.createdMessages[0].SequenceNumber)
	}
}

func TestDispatch_FriendshipStateRequestSwitchesAndAppliesState(t *testing.T) {
	d, store, key, recv, del := newHarness(t)
	ctx := context.Background()

	// bob's own local view of the friendship: he just sent a request, so
	// from his side myState=requested, theirState=pending.
	bobsView := domain.FriendshipMetadata{MyState: domain.FriendshipRequested, TheirState: domain.FriendshipPending}
	msg := domain.CryptoMessage{
		MessageType: domain.MessageKindFriendshipStateRequest,
		Metadata:    friendship.EncodeMetadata(bobsView),
	}
	if err := d.Dispatch(ctx, "bob", uuid.New(), msg, ""); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	blobs, err := store.FetchAllContacts(ctx)
	if err != nil {
		t.Fatalf("FetchAllContacts: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(blobs))
	}
	decoded, err := envelope.Open[domain.Contact](blobs[0], key)
	if err != nil {
		t.Fatalf("Open contact: %v", err)
	}

	switched := friendship.SwitchStates(bobsView)
	want := friendship.SetTheirState(domain.FriendshipMetadata{}, switched.TheirState)
	if decoded.Props.Friendship != want {
		t.Fatalf("got %+v, want %+v", decoded.Props.Friendship, want)
	}
	if decoded.Props.Friendship.TheirState != domain.FriendshipRequested {
		t.Fatalf("expected TheirState=requested after switching perspective, got %v", decoded.Props.Friendship.TheirState)
	}
	if del.friendshipChanges != 1 {
		t.Fatalf("expected 1 delegate callback, got %d", del.friendshipChanges)
	}
	if len(recv.contactsUpdated) != 1 {
		t.Fatalf("expected 1 ContactUpdated notification, got %d", len(recv.contactsUpdated))
	}
}

func TestDispatch_FriendshipStateRequestMissingMetadataErrors(t *testing.T) {
	d, _, _, _, _ := newHarness(t)
	msg := domain.CryptoMessage{MessageType: domain.MessageKindFriendshipStateRequest}
	if err := d.Dispatch(context.Background(), "bob", uuid.New(), msg, ""); err == nil {
		t.Fatal("expected an error when the friendshipStateRequest carries no FriendshipMetadata")
	}
}

func TestDispatch_EditMessageMetadataMergesSendersOnce(t *testing.T) {
	d, store, key, _, _ := newHarness(t)
	ctx := context.Background()

	record := domain.EncryptedMessage{ID: domain.NewUUID(), CommunicationID: uuid.New(), SharedID: "shared-react", Message: domain.CryptoMessage{Text: "hi"}}
	blob, _, err := envelope.MakeDecryptedModelWithID(record.ID, record, key)
	if err != nil {
		t.Fatalf("seal message: %v", err)
	}
	if err := store.CreateMessage(ctx, blob, record.CommunicationID, record.SharedID); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	msg := domain.CryptoMessage{
		MessageType:  domain.MessageKindEditMessageMetadata,
		MessageFlags: domain.MessageFlags{"shared_id": string(record.SharedID), "key": "thumbsup"},
	}
	if err := d.Dispatch(ctx, "carol", uuid.New(), msg, ""); err != nil {
		t.Fatalf("Dispatch (first): %v", err)
	}
	if err := d.Dispatch(ctx, "carol", uuid.New(), msg, ""); err != nil {
		t.Fatalf("Dispatch (duplicate): %v", err)
	}

	updatedBlob, ok, err := store.FetchMessageByID(ctx, record.ID)
	if err != nil || !ok {
		t.Fatalf("FetchMessageByID: ok=%v err=%v", ok, err)
	}
	decoded, err := envelope.Open[domain.EncryptedMessage](updatedBlob, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	raw, ok := decoded.Props.Message.Metadata["thumbsup"]
	if !ok {
		t.Fatal("expected thumbsup metadata key to be set")
	}
	if want := base64.StdEncoding.EncodeToString([]byte("carol")); raw.(string) != want {
		t.Fatalf("got encoded sender list %q, want %q (carol listed once)", raw, want)
	}
}

func TestDispatch_RevokeMessageDeletesIt(t *testing.T) {
	d, store, key, recv, _ := newHarness(t)
	ctx := context.Background()

	record := domain.EncryptedMessage{ID: domain.NewUUID(), CommunicationID: uuid.New(), SharedID: "shared-revoke"}
	blob, _, err := envelope.MakeDecryptedModelWithID(record.ID, record, key)
	if err != nil {
		t.Fatalf("seal message: %v", err)
	}
	if err := store.CreateMessage(ctx, blob, record.CommunicationID, record.SharedID); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	msg := domain.CryptoMessage{MessageType: domain.MessageKindRevokeMessage, Text: string(record.SharedID)}
	if err := d.Dispatch(ctx, "dave", uuid.New(), msg, ""); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, ok, _ := store.FetchMessageByID(ctx, record.ID); ok {
		t.Fatal("expected message to be deleted")
	}
	if len(recv.deletedMessages) != 1 || recv.deletedMessages[0] != record.ID {
		t.Fatalf("expected MessageDeleted notification for %v, got %v", record.ID, recv.deletedMessages)
	}
}

func TestDispatch_UnknownControlMessageTriggersLocalNudge(t *testing.T) {
	d, _, _, recv, _ := newHarness(t)
	msg := domain.CryptoMessage{MessageType: domain.MessageKindUnknownControl}
	if err := d.Dispatch(context.Background(), "eve", uuid.New(), msg, ""); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if recv.nudges != 1 {
		t.Fatalf("expected 1 LocalNudge, got %d", recv.nudges)
	}
}

func TestDispatch_DeliveryStateChangeBySharedID(t *testing.T) {
	d, store, key, recv, _ := newHarness(t)
	ctx := context.Background()

	record := domain.EncryptedMessage{
		ID:              domain.NewUUID(),
		CommunicationID: uuid.New(),
		SharedID:        "S1",
		DeliveryState:   domain.DeliveryStateSending,
	}
	blob, _, err := envelope.MakeDecryptedModelWithID(record.ID, record, key)
	if err != nil {
		t.Fatalf("seal message: %v", err)
	}
	if err := store.CreateMessage(ctx, blob, record.CommunicationID, record.SharedID); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	msg := domain.CryptoMessage{
		MessageType:  domain.MessageKindDeliveryStateChange,
		Text:         "S1",
		MessageFlags: domain.MessageFlags{"state": "delivered"},
	}
	if err := d.Dispatch(ctx, "bob", uuid.New(), msg, ""); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	updatedBlob, ok, err := store.FetchMessageByID(ctx, record.ID)
	if err != nil || !ok {
		t.Fatalf("FetchMessageByID: ok=%v err=%v", ok, err)
	}
	decoded, err := envelope.Open[domain.EncryptedMessage](updatedBlob, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if decoded.Props.DeliveryState != domain.DeliveryStateDelivered {
		t.Fatalf("got %v, want delivered", decoded.Props.DeliveryState)
	}
	if len(recv.updatedMessages) != 1 {
		t.Fatalf("expected 1 MessageUpdated notification, got %d", len(recv.updatedMessages))
	}
}
