// Package dispatcher implements the Message Dispatcher:
// given a decoded CryptoMessage, it branches on control vs. normal message
// kinds, persists normal messages through the Communication Bookkeeping
// layer, and invokes the application's EventReceiver/SessionDelegate hooks.
package dispatcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"pqsession/internal/communication"
	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/friendship"
)

// Dispatcher is the stateless router over a decoded CryptoMessage;
// everything it needs to persist or notify is injected.
type Dispatcher struct {
	store       domain.SessionStore
	databaseKey []byte
	comms       *communication.Bookkeeper
	receiver    domain.EventReceiver
	delegate    domain.SessionDelegate
	me          domain.SessionUser
}

func New(store domain.SessionStore, databaseKey []byte, comms *communication.Bookkeeper, receiver domain.EventReceiver, delegate domain.SessionDelegate, me domain.SessionUser) *Dispatcher {
	return &Dispatcher{store: store, databaseKey: databaseKey, comms: comms, receiver: receiver, delegate: delegate, me: me}
}

// Dispatch routes one decoded message from sender/senderDevice, persisted
// under sharedID when it is a normal message.
func (d *Dispatcher) Dispatch(ctx context.Context, sender domain.SecretName, senderDevice domain.DeviceID, msg domain.CryptoMessage, sharedID domain.SharedID) error {
	if msg.MessageType.IsControl() {
		return d.dispatchControl(ctx, sender, senderDevice, msg)
	}
	return d.dispatchNormal(ctx, sender, senderDevice, msg, sharedID)
}

func (d *Dispatcher) dispatchControl(ctx context.Context, sender domain.SecretName, senderDevice domain.DeviceID, msg domain.CryptoMessage) error {
	switch msg.MessageType {
	case domain.MessageKindFriendshipStateRequest:
		return d.handleFriendshipStateRequest(ctx, sender, msg)
	case domain.MessageKindDeliveryStateChange:
		return d.handleDeliveryStateChange(ctx, msg)
	case domain.MessageKindEditMessage:
		return d.handleEditMessage(ctx, msg)
	case domain.MessageKindEditMessageMetadata:
		return d.handleEditMessageMetadata(ctx, sender, msg)
	case domain.MessageKindCommunicationSynchronization:
		return d.handleCommunicationSynchronization(ctx, msg)
	case domain.MessageKindContactCreated:
		if d.receiver != nil {
			d.receiver.Synchronize(sender, true)
		}
		return nil
	case domain.MessageKindAddContacts:
		return d.handleAddContacts(ctx, msg)
	case domain.MessageKindRevokeMessage:
		return d.handleRevokeMessage(ctx, msg)
	case domain.MessageKindDCCSymmetricKey:
		return d.handleDCCSymmetricKey(ctx, sender, msg)
	default:
		if d.receiver != nil {
			d.receiver.LocalNudge(sender, senderDevice, msg)
		}
		return nil
	}
}

// handleFriendshipStateRequest decodes the sender's full FriendshipMetadata
// triple (their local my/their/our view), applies SwitchStates to flip it
// into our perspective, and folds the resulting theirState into the
// sender's Contact, creating it if this is the first contact.
func (d *Dispatcher) handleFriendshipStateRequest(ctx context.Context, sender domain.SecretName, msg domain.CryptoMessage) error {
	incoming, ok := friendship.DecodeMetadata(msg.Metadata)
	if !ok {
		return fmt.Errorf("dispatcher: friendship state request carries no FriendshipMetadata")
	}
	switched := friendship.SwitchStates(incoming)

	current, err := d.findOrCreateContact(ctx, sender)
	if err != nil {
		return err
	}
	updated := friendship.SetTheirState(current.Props.Friendship, switched.TheirState)

	blob, decoded, err := envelope.UpdateProps(current, d.databaseKey, func(c *domain.Contact) {
		c.Friendship = updated
	})
	if err != nil {
		return fmt.Errorf("dispatcher: update contact friendship: %w", err)
	}
	if err := d.store.UpdateContact(ctx, blob); err != nil {
		return fmt.Errorf("dispatcher: persist contact friendship: %w", err)
	}
	if d.delegate != nil {
		d.delegate.RequestFriendshipStateChange(sender, nil, decoded.Props.Friendship, current.Props.Friendship)
	}
	if d.receiver != nil {
		d.receiver.ContactUpdated(sender)
	}
	return nil
}

// handleDeliveryStateChange resolves the referenced message by its shared
// id: the sender only knows the id both devices agree on, never this
// device's local record id.
func (d *Dispatcher) handleDeliveryStateChange(ctx context.Context, msg domain.CryptoMessage) error {
	sharedID := domain.SharedID(msg.Text)
	if sharedID == "" {
		return fmt.Errorf("dispatcher: delivery state change: missing shared id")
	}
	state, ok := parseDeliveryState(msg.MessageFlags["state"])
	if !ok {
		return fmt.Errorf("dispatcher: delivery state change: unrecognised state %q", msg.MessageFlags["state"])
	}

	current, err := d.loadMessageBySharedID(ctx, sharedID)
	if err != nil {
		return err
	}
	blob, decoded, err := envelope.UpdateProps(current, d.databaseKey, func(m *domain.EncryptedMessage) {
		m.DeliveryState = state
	})
	if err != nil {
		return fmt.Errorf("dispatcher: update delivery state: %w", err)
	}
	if err := d.store.UpdateMessage(ctx, blob); err != nil {
		return fmt.Errorf("dispatcher: persist delivery state: %w", err)
	}
	if d.delegate != nil {
		d.delegate.DeliveryStateChanged(msg.Text, state)
	}
	if d.receiver != nil {
		d.receiver.MessageUpdated(*decoded.Props)
	}
	return nil
}

func (d *Dispatcher) handleEditMessage(ctx context.Context, msg domain.CryptoMessage) error {
	sharedID := domain.SharedID(msg.MessageFlags["shared_id"])
	if sharedID == "" {
		return fmt.Errorf("dispatcher: edit message: missing shared id")
	}
	current, err := d.loadMessageBySharedID(ctx, sharedID)
	if err != nil {
		return err
	}
	blob, decoded, err := envelope.UpdateProps(current, d.databaseKey, func(m *domain.EncryptedMessage) {
		m.Message.Text = msg.Text
	})
	if err != nil {
		return fmt.Errorf("dispatcher: apply edit: %w", err)
	}
	if err := d.store.UpdateMessage(ctx, blob); err != nil {
		return fmt.Errorf("dispatcher: persist edit: %w", err)
	}
	if d.delegate != nil {
		d.delegate.EditMessage(string(sharedID), msg.Text)
	}
	if d.receiver != nil {
		d.receiver.MessageUpdated(*decoded.Props)
	}
	return nil
}

// handleEditMessageMetadata merges sender into the deduplicated list of
// senders recorded against msg.MessageFlags["key"] on the referenced
// message, using the Encrypted Model Layer's metadata-merge path.
func (d *Dispatcher) handleEditMessageMetadata(ctx context.Context, sender domain.SecretName, msg domain.CryptoMessage) error {
	sharedID := domain.SharedID(msg.MessageFlags["shared_id"])
	if sharedID == "" {
		return fmt.Errorf("dispatcher: edit message metadata: missing shared id")
	}
	key := msg.MessageFlags["key"]
	if key == "" {
		return fmt.Errorf("dispatcher: edit message metadata: missing key")
	}

	current, err := d.loadMessageBySharedID(ctx, sharedID)
	if err != nil {
		return err
	}

	senders := decodeSenderList(current.Props.Message.Metadata, key)
	senders = appendUnique(senders, sender)
	value := []byte(encodeSenderList(senders))

	blob, decoded, err := envelope.UpdatePropsMetadata[domain.EncryptedMessage, *domain.EncryptedMessage](current, d.databaseKey, key, value)
	if err != nil {
		return fmt.Errorf("dispatcher: merge reaction metadata: %w", err)
	}
	if err := d.store.UpdateMessage(ctx, blob); err != nil {
		return fmt.Errorf("dispatcher: persist reaction metadata: %w", err)
	}
	if d.receiver != nil {
		d.receiver.MessageUpdated(*decoded.Props)
	}
	return nil
}

func (d *Dispatcher) handleCommunicationSynchronization(ctx context.Context, msg domain.CryptoMessage) error {
	if d.delegate != nil && !d.delegate.ShouldFinishCommunicationSynchronization(msg.TransportInfo) {
		return nil
	}
	sharedID, err := uuid.Parse(msg.Text)
	if err != nil {
		return fmt.Errorf("dispatcher: communication synchronization: bad shared id: %w", err)
	}
	typ := msg.Recipient.AsCommunicationType()
	current, ok, err := d.comms.FindByType(ctx, typ)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrCommunicationNotFound
	}
	return d.comms.SetSharedID(ctx, current, sharedID)
}

func (d *Dispatcher) handleAddContacts(ctx context.Context, msg domain.CryptoMessage) error {
	names := splitNonEmpty(msg.Text, ',')
	for _, raw := range names {
		name := domain.SecretName(raw)
		if _, err := d.findOrCreateContact(ctx, name); err != nil {
			return err
		}
		if d.receiver != nil {
			d.receiver.ContactCreated(name)
		}
	}
	return nil
}

func (d *Dispatcher) handleRevokeMessage(ctx context.Context, msg domain.CryptoMessage) error {
	sharedID := domain.SharedID(msg.Text)
	if sharedID == "" {
		return fmt.Errorf("dispatcher: revoke message: missing shared id")
	}
	current, err := d.loadMessageBySharedID(ctx, sharedID)
	if err != nil {
		return err
	}
	if err := d.store.DeleteMessage(ctx, current.ID); err != nil {
		return fmt.Errorf("dispatcher: revoke message: %w", err)
	}
	if d.receiver != nil {
		d.receiver.MessageDeleted(current.ID)
	}
	return nil
}

// handleDCCSymmetricKey stashes a shared 32-byte key for out-of-band file
// transfer on the sender's Contact metadata.
func (d *Dispatcher) handleDCCSymmetricKey(ctx context.Context, sender domain.SecretName, msg domain.CryptoMessage) error {
	if len(msg.TransportInfo) != 32 {
		return fmt.Errorf("dispatcher: dcc symmetric key: want 32 bytes, got %d", len(msg.TransportInfo))
	}
	current, err := d.findOrCreateContact(ctx, sender)
	if err != nil {
		return err
	}
	blob, decoded, err := envelope.UpdateProps(current, d.databaseKey, func(c *domain.Contact) {
		if c.Metadata == nil {
			c.Metadata = make(domain.Metadata)
		}
		c.Metadata["dcc_symmetric_key"] = crypto.B64(msg.TransportInfo)
	})
	if err != nil {
		return fmt.Errorf("dispatcher: stash dcc key: %w", err)
	}
	if err := d.store.UpdateContact(ctx, blob); err != nil {
		return fmt.Errorf("dispatcher: persist dcc key: %w", err)
	}
	if d.receiver != nil {
		d.receiver.ContactMetadataChanged(sender, decoded.Props.Metadata)
	}
	return nil
}

// dispatchNormal persists a normal message through the Communication
// Bookkeeping layer, computing displayTarget for
// sibling-device sends and skipping persistence for broadcast.
func (d *Dispatcher) dispatchNormal(ctx context.Context, sender domain.SecretName, senderDevice domain.DeviceID, msg domain.CryptoMessage, sharedID domain.SharedID) error {
	if d.delegate != nil && !d.delegate.ShouldPersist(msg.TransportInfo) {
		return nil
	}

	var typ domain.CommunicationType
	var members []domain.SecretName

	switch msg.Recipient.Kind {
	case domain.RecipientNickname:
		// A sibling-device echo of our own outgoing message addresses the
		// peer by recipient.Name; an inbound message from the peer itself
		// names us as recipient, so the conversation key is the sender.
		// Either way the conversation is keyed by "the other party".
		displayTarget := msg.Recipient.Name
		if sender != d.me.SecretName {
			displayTarget = string(sender)
		}
		typ = domain.NicknameType(displayTarget)
		members = []domain.SecretName{domain.SecretName(displayTarget)}
	case domain.RecipientPersonalMessage:
		typ = domain.PersonalMessageType()
		members = []domain.SecretName{d.me.SecretName}
	case domain.RecipientChannel:
		typ = domain.ChannelType(msg.Recipient.Name)
	case domain.RecipientBroadcast:
		return nil // not persisted
	}

	var current envelope.Decrypted[domain.Communication]
	var err error
	if msg.Recipient.Kind == domain.RecipientChannel {
		// Channel conversations must pre-exist.
		var ok bool
		current, ok, err = d.comms.FindByType(ctx, typ)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrCommunicationNotFound
		}
	} else {
		current, _, err = d.comms.FindOrCreate(ctx, typ, members, nil)
		if err != nil {
			return err
		}
	}

	updated, count, err := d.comms.IncrementMessageCount(ctx, current)
	if err != nil {
		return err
	}

	record := domain.EncryptedMessage{
		ID:                domain.NewUUID(),
		CommunicationID:   updated.ID,
		SharedID:          sharedID,
		SequenceNumber:    count,
		SendDate:          msg.SentDate,
		DeliveryState:     domain.DeliveryStateReceived,
		Message:           msg,
		SendersSecretName: sender,
		SendersDeviceID:   senderDevice,
	}
	blob, decoded, err := envelope.MakeDecryptedModelWithID(record.ID, record, d.databaseKey)
	if err != nil {
		return fmt.Errorf("dispatcher: encrypt message: %w", err)
	}
	if err := d.store.CreateMessage(ctx, blob, record.CommunicationID, record.SharedID); err != nil {
		return fmt.Errorf("dispatcher: persist message: %w", err)
	}
	if d.receiver != nil {
		d.receiver.MessageCreated(*decoded.Props)
	}
	return nil
}

func (d *Dispatcher) loadMessageBySharedID(ctx context.Context, sharedID domain.SharedID) (envelope.Decrypted[domain.EncryptedMessage], error) {
	blob, ok, err := d.store.FetchMessageBySharedID(ctx, sharedID)
	if err != nil {
		return envelope.Decrypted[domain.EncryptedMessage]{}, fmt.Errorf("dispatcher: fetch message: %w", err)
	}
	if !ok {
		return envelope.Decrypted[domain.EncryptedMessage]{}, fmt.Errorf("dispatcher: message with shared id %q not found", sharedID)
	}
	decoded, err := envelope.Open[domain.EncryptedMessage](blob, d.databaseKey)
	if err != nil {
		return envelope.Decrypted[domain.EncryptedMessage]{}, fmt.Errorf("dispatcher: decode message: %w", err)
	}
	return decoded, nil
}

func (d *Dispatcher) findOrCreateContact(ctx context.Context, name domain.SecretName) (envelope.Decrypted[domain.Contact], error) {
	blobs, err := d.store.FetchAllContacts(ctx)
	if err != nil {
		return envelope.Decrypted[domain.Contact]{}, fmt.Errorf("dispatcher: fetch contacts: %w", err)
	}
	for _, blob := range blobs {
		decoded, err := envelope.Open[domain.Contact](blob, d.databaseKey)
		if err != nil || decoded.Props == nil {
			continue
		}
		if decoded.Props.SecretName == name {
			return decoded, nil
		}
	}

	contact := domain.Contact{ID: domain.NewUUID(), SecretName: name}
	blob, decoded, err := envelope.MakeDecryptedModelWithID(contact.ID, contact, d.databaseKey)
	if err != nil {
		return envelope.Decrypted[domain.Contact]{}, fmt.Errorf("dispatcher: encrypt new contact: %w", err)
	}
	if err := d.store.CreateContact(ctx, blob); err != nil {
		return envelope.Decrypted[domain.Contact]{}, fmt.Errorf("dispatcher: persist new contact: %w", err)
	}
	return decoded, nil
}

func parseDeliveryState(s string) (domain.DeliveryState, bool) {
	switch s {
	case "sending":
		return domain.DeliveryStateSending, true
	case "sent":
		return domain.DeliveryStateSent, true
	case "received":
		return domain.DeliveryStateReceived, true
	case "delivered":
		return domain.DeliveryStateDelivered, true
	case "read":
		return domain.DeliveryStateRead, true
	case "failed":
		return domain.DeliveryStateFailed, true
	default:
		return domain.DeliveryStateSending, false
	}
}

func decodeSenderList(metadata domain.Metadata, key string) []string {
	raw, ok := metadata[key]
	if !ok {
		return nil
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil
	}
	packed, err := crypto.B64Decode(encoded)
	if err != nil {
		return nil
	}
	return splitNonEmpty(string(packed), ',')
}

func encodeSenderList(senders []string) string {
	sort.Strings(senders)
	out := ""
	for i, s := range senders {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func appendUnique(senders []string, sender domain.SecretName) []string {
	for _, s := range senders {
		if s == string(sender) {
			return senders
		}
	}
	return append(senders, string(sender))
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
