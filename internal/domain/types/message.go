package types

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// DeliveryState is the lifecycle of a persisted EncryptedMessage.
type DeliveryState int

const (
	DeliveryStateSending DeliveryState = iota
	DeliveryStateSent
	DeliveryStateReceived
	DeliveryStateDelivered
	DeliveryStateRead
	DeliveryStateFailed
)

func (d DeliveryState) String() string {
	switch d {
	case DeliveryStateSending:
		return "sending"
	case DeliveryStateSent:
		return "sent"
	case DeliveryStateReceived:
		return "received"
	case DeliveryStateDelivered:
		return "delivered"
	case DeliveryStateRead:
		return "read"
	case DeliveryStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MessageKind tags CryptoMessage.MessageType: a normal payload or one of the
// control subtypes the dispatcher switches on.
type MessageKind int

const (
	MessageKindNormal MessageKind = iota
	MessageKindFriendshipStateRequest
	MessageKindDeliveryStateChange
	MessageKindEditMessage
	MessageKindEditMessageMetadata
	MessageKindCommunicationSynchronization
	MessageKindContactCreated
	MessageKindAddContacts
	MessageKindRevokeMessage
	MessageKindDCCSymmetricKey
	MessageKindUnknownControl
)

func (k MessageKind) IsControl() bool { return k != MessageKindNormal }

// MessageFlags further qualifies a control MessageKind (e.g. which key a
// metadata edit targets). Stored as a small open string set rather than a
// closed enum because application code defines its own reaction/edit keys.
type MessageFlags map[string]string

// CryptoMessage is the plaintext unit that gets encoded, ratcheted, and
// sent.
type CryptoMessage struct {
	Text          string           `bson:"text"`
	SentDate      time.Time        `bson:"sent_date"`
	Recipient     MessageRecipient `bson:"recipient"`
	Metadata      Metadata         `bson:"metadata,omitempty"`
	TransportInfo []byte           `bson:"transport_info,omitempty"`
	MessageType   MessageKind      `bson:"message_type"`
	MessageFlags  MessageFlags     `bson:"message_flags,omitempty"`
	PushType      string           `bson:"push_type,omitempty"`
}

// EncryptedMessage is a persisted, app-visible message,
// distinct from the on-wire ratcheted envelope.
type EncryptedMessage struct {
	ID                uuid.UUID        `bson:"_id"`
	CommunicationID   uuid.UUID        `bson:"communication_id"`
	SessionContextID  SessionContextID `bson:"session_context_id"`
	SharedID          SharedID         `bson:"shared_id"`
	SequenceNumber    int64            `bson:"sequence_number"`
	SendDate          time.Time        `bson:"send_date"`
	DeliveryState     DeliveryState    `bson:"delivery_state"`
	Message           CryptoMessage    `bson:"message"`
	SendersSecretName SecretName       `bson:"senders_secret_name"`
	SendersDeviceID   DeviceID         `bson:"senders_device_id"`
}

// SetMetadataField satisfies envelope.MetadataCarrier: it stores value
// base64-encoded under field in the message's metadata document, so the
// encrypted model layer's generic metadata-merge path can target a single
// field without decoding the rest of the record.
func (m *EncryptedMessage) SetMetadataField(field string, value []byte) {
	if m.Message.Metadata == nil {
		m.Message.Metadata = make(Metadata)
	}
	m.Message.Metadata[field] = base64.StdEncoding.EncodeToString(value)
}
