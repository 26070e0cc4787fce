package localdelegate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/friendship"
)

// Delegate is the default domain.SessionDelegate/domain.EventReceiver pair
// cmd/sessionctl wires into its Driver and Dispatcher. It keeps one Contact
// record per peer secretName and otherwise just logs.
type Delegate struct {
	store       domain.SessionStore
	databaseKey []byte
	me          domain.SessionUser
	logger      *slog.Logger
}

// New returns a Delegate bound to store, decrypting/encrypting Contact
// records under databaseKey.
func New(store domain.SessionStore, databaseKey []byte, me domain.SessionUser, logger *slog.Logger) *Delegate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegate{store: store, databaseKey: databaseKey, me: me, logger: logger}
}

var (
	_ domain.SessionDelegate = (*Delegate)(nil)
	_ domain.EventReceiver   = (*Delegate)(nil)
)

// encodeTransportInfo packs this device's identity into the bytes carried
// on an outbound CryptoMessage so the recipient's poller can recover the
// sender without decrypting anything.
func (d *Delegate) encodeTransportInfo() []byte {
	return []byte(d.me.SecretName.String() + "|" + d.me.DeviceID.String())
}

// RetrieveUserInfo is the inverse of encodeTransportInfo, used by whatever
// polls the transport (cmd/sessionctl's pump command) to learn who sent an
// inbox entry before constructing its InboundTaskMessage.
func (d *Delegate) RetrieveUserInfo(transportInfo []byte) (domain.SecretName, domain.DeviceID, bool) {
	parts := strings.SplitN(string(transportInfo), "|", 2)
	if len(parts) != 2 {
		return "", uuid.Nil, false
	}
	deviceID, err := uuid.Parse(parts[1])
	if err != nil {
		return "", uuid.Nil, false
	}
	return domain.SecretName(parts[0]), deviceID, true
}

func (d *Delegate) ShouldPersist(transportInfo []byte) bool { return true }

func (d *Delegate) ShouldFinishCommunicationSynchronization(transportInfo []byte) bool { return true }

func (d *Delegate) UpdateCryptoMessageMetadata(message domain.CryptoMessage, sharedID domain.SharedID) domain.CryptoMessage {
	if message.Metadata == nil {
		message.Metadata = make(domain.Metadata)
	}
	message.Metadata["shared_id"] = string(sharedID)
	return message
}

func (d *Delegate) UpdateEncryptableMessageMetadata(
	message domain.CryptoMessage,
	transportInfo []byte,
	identity domain.SessionIdentity,
	recipient domain.MessageRecipient,
) domain.CryptoMessage {
	message.TransportInfo = d.encodeTransportInfo()
	return message
}

func (d *Delegate) ProcessUnpersistedMessage(message domain.CryptoMessage, sender domain.SecretName, senderDevice domain.DeviceID) bool {
	d.logger.Info("processing unpersisted message", "sender", sender, "device", senderDevice)
	return true
}

func (d *Delegate) RequestMetadata(secretName domain.SecretName) domain.Metadata {
	return nil
}

func (d *Delegate) EditMessage(messageID string, newText string) {
	d.logger.Info("edit message", "id", messageID)
}

func (d *Delegate) DeliveryStateChanged(messageID string, state domain.DeliveryState) {
	d.logger.Info("delivery state changed", "id", messageID, "state", state.String())
}

func (d *Delegate) ContactCreated(secretName domain.SecretName) {
	if _, _, err := d.findOrCreateContact(context.Background(), secretName); err != nil {
		d.logger.Error("contact created: persist", "secretName", secretName, "error", err)
	}
}

// SynchronizeCommunication answers a communicationSynchronization control
// message by logging it and nothing more; the CLI has nothing further to
// pull since every Communication already lives in the local store.
func (d *Delegate) SynchronizeCommunication(recipient domain.SecretName, sharedIdentifier domain.SharedID) {
	d.logger.Info("synchronize communication", "recipient", recipient, "shared_id", sharedIdentifier)
}

// RequestFriendshipStateChange applies an inbound friendshipStateRequest to
// this device's local Contact record for the sender.
func (d *Delegate) RequestFriendshipStateChange(
	recipient domain.SecretName,
	blockData []byte,
	metadata domain.FriendshipMetadata,
	currentState domain.FriendshipMetadata,
) {
	ctx := context.Background()
	contact, _, err := d.findOrCreateContact(ctx, recipient)
	if err != nil {
		d.logger.Error("friendship state change: load contact", "recipient", recipient, "error", err)
		return
	}
	updated := friendship.SetTheirState(contact.Props.Friendship, metadata.TheirState)
	blob, _, err := envelope.UpdateProps(contact, d.databaseKey, func(c *domain.Contact) {
		c.Friendship = updated
	})
	if err != nil {
		d.logger.Error("friendship state change: encode", "recipient", recipient, "error", err)
		return
	}
	if err := d.store.UpdateContact(ctx, blob); err != nil {
		d.logger.Error("friendship state change: persist", "recipient", recipient, "error", err)
	}
}

func (d *Delegate) findOrCreateContact(ctx context.Context, secretName domain.SecretName) (envelope.Decrypted[domain.Contact], bool, error) {
	blobs, err := d.store.FetchAllContacts(ctx)
	if err != nil {
		return envelope.Decrypted[domain.Contact]{}, false, err
	}
	for _, blob := range blobs {
		decoded, err := envelope.Open[domain.Contact](blob, d.databaseKey)
		if err != nil || decoded.Props == nil {
			continue
		}
		if decoded.Props.SecretName == secretName {
			return decoded, false, nil
		}
	}

	model := domain.Contact{ID: domain.NewUUID(), SecretName: secretName}
	blob, decoded, err := envelope.MakeDecryptedModelWithID(model.ID, model, d.databaseKey)
	if err != nil {
		return envelope.Decrypted[domain.Contact]{}, false, err
	}
	if err := d.store.CreateContact(ctx, blob); err != nil {
		return envelope.Decrypted[domain.Contact]{}, false, err
	}
	return decoded, true, nil
}

// --- domain.EventReceiver ---

func (d *Delegate) MessageCreated(message domain.EncryptedMessage) {
	d.logger.Info("message created", "id", message.ID, "sender", message.SendersSecretName)
}

func (d *Delegate) MessageUpdated(message domain.EncryptedMessage) {
	d.logger.Info("message updated", "id", message.ID)
}

func (d *Delegate) MessageDeleted(id uuid.UUID) {
	d.logger.Info("message deleted", "id", id)
}

func (d *Delegate) ContactRemoved(secretName domain.SecretName) {
	d.logger.Info("contact removed", "secretName", secretName)
}

func (d *Delegate) ContactUpdated(secretName domain.SecretName) {
	d.logger.Info("contact updated", "secretName", secretName)
}

func (d *Delegate) ContactMetadataChanged(secretName domain.SecretName, metadata domain.Metadata) {
	d.logger.Info("contact metadata changed", "secretName", secretName)
}

func (d *Delegate) Synchronize(secretName domain.SecretName, requestFriendship bool) {
	d.logger.Info("synchronize", "secretName", secretName, "requestFriendship", requestFriendship)
	if requestFriendship {
		d.ContactCreated(secretName)
	}
}

func (d *Delegate) TransportContactMetadata(secretName domain.SecretName, transportInfo []byte) {
	d.logger.Info("transport contact metadata", "secretName", secretName)
}

func (d *Delegate) UpdatedCommunication(communication domain.Communication, members []domain.SecretName) {
	d.logger.Info("communication updated", "id", communication.ID, "members", len(members))
}

func (d *Delegate) CreatedChannel(communication domain.Communication) {
	d.logger.Info("channel created", "id", communication.ID)
}

func (d *Delegate) LocalNudge(sender domain.SecretName, senderDevice domain.DeviceID, message domain.CryptoMessage) {
	d.logger.Info("local nudge", "sender", sender, "device", senderDevice, "kind", message.MessageType)
}
