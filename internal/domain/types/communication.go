package types

import "github.com/google/uuid"

// CommunicationKind tags the variant of CommunicationType.
type CommunicationKind int

const (
	CommunicationKindNickname CommunicationKind = iota
	CommunicationKindPersonalMessage
	CommunicationKindChannel
	CommunicationKindBroadcast
)

func (k CommunicationKind) String() string {
	switch k {
	case CommunicationKindNickname:
		return "nickname"
	case CommunicationKindPersonalMessage:
		return "personalMessage"
	case CommunicationKindChannel:
		return "channel"
	case CommunicationKindBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// CommunicationType is the tagged union a conversation target uses:
// "nickname(name) | personalMessage | channel(name) | broadcast". Name is
// only meaningful for Nickname and Channel.
type CommunicationType struct {
	Kind CommunicationKind `bson:"kind"`
	Name string            `bson:"name,omitempty"`
}

func NicknameType(name string) CommunicationType {
	return CommunicationType{Kind: CommunicationKindNickname, Name: name}
}

func PersonalMessageType() CommunicationType {
	return CommunicationType{Kind: CommunicationKindPersonalMessage}
}

func ChannelType(name string) CommunicationType {
	return CommunicationType{Kind: CommunicationKindChannel, Name: name}
}

func BroadcastType() CommunicationType {
	return CommunicationType{Kind: CommunicationKindBroadcast}
}

// Equal reports whether two CommunicationType values name the same
// conversation, used by communication.Bookkeeper.FindByType's lookup.
func (c CommunicationType) Equal(other CommunicationType) bool {
	return c.Kind == other.Kind && c.Name == other.Name
}

// Metadata is the opaque key/value document attached to a Communication or
// CryptoMessage.
type Metadata map[string]any

// Communication is a persistent conversation record.
type Communication struct {
	ID               uuid.UUID         `bson:"_id"`
	SharedID         *uuid.UUID        `bson:"shared_id,omitempty"`
	MessageCount     int64             `bson:"message_count"`
	Members          []SecretName      `bson:"members"`
	Administrator    SecretName        `bson:"administrator,omitempty"`
	Operators        []SecretName      `bson:"operators,omitempty"`
	BlockedMembers   []SecretName      `bson:"blocked_members,omitempty"`
	Metadata         Metadata          `bson:"metadata,omitempty"`
	CommunicationType CommunicationType `bson:"communication_type"`
}

// HasMember reports whether name is a member of the conversation.
func (c Communication) HasMember(name SecretName) bool {
	for _, m := range c.Members {
		if m == name {
			return true
		}
	}
	return false
}
