package domain

import (
	interfaces "pqsession/internal/domain/interfaces"
	types "pqsession/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage so callers
// import one package for the whole data model.
type (
	SecretName       = types.SecretName
	DeviceID         = types.DeviceID
	SessionContextID = types.SessionContextID
	SharedID         = types.SharedID

	X25519Public          = types.X25519Public
	X25519Private         = types.X25519Private
	Ed25519Public         = types.Ed25519Public
	Ed25519Private        = types.Ed25519Private
	KyberPublicKey        = types.KyberPublicKey
	KyberPrivateKey       = types.KyberPrivateKey
	OneTimeKeyID          = types.OneTimeKeyID
	OneTimeKeyPair        = types.OneTimeKeyPair
	OneTimeKeyPublic      = types.OneTimeKeyPublic
	KyberOneTimeKeyPair   = types.KyberOneTimeKeyPair
	KyberOneTimeKeyPublic = types.KyberOneTimeKeyPublic
	DeviceKeys            = types.DeviceKeys

	SessionUser            = types.SessionUser
	SignedOneTimeKeyPublic = types.SignedOneTimeKeyPublic
	SignedKyberOneTimeKeyPublic = types.SignedKyberOneTimeKeyPublic
	VerifiedDevice          = types.VerifiedDevice
	UserConfiguration       = types.UserConfiguration
	SessionContext          = types.SessionContext

	SessionIdentity = types.SessionIdentity
	IdentityKey     = types.IdentityKey

	CommunicationKind = types.CommunicationKind
	CommunicationType = types.CommunicationType
	Metadata          = types.Metadata
	Communication     = types.Communication

	RecipientKind    = types.RecipientKind
	MessageRecipient = types.MessageRecipient

	DeliveryState    = types.DeliveryState
	MessageKind      = types.MessageKind
	MessageFlags     = types.MessageFlags
	CryptoMessage    = types.CryptoMessage
	EncryptedMessage = types.EncryptedMessage

	RatchetMessageHeader         = types.RatchetMessageHeader
	RatchetMessage               = types.RatchetMessage
	SignedRatchetMessage         = types.SignedRatchetMessage
	SignedRatchetMessageMetadata = types.SignedRatchetMessageMetadata

	Priority            = types.Priority
	TaskKind            = types.TaskKind
	InboundTaskMessage  = types.InboundTaskMessage
	OutboundTaskMessage = types.OutboundTaskMessage
	Task                = types.Task
	JobModel            = types.JobModel

	FriendshipState    = types.FriendshipState
	FriendshipMetadata = types.FriendshipMetadata

	Contact = types.Contact
)

// Constant re-exports so callers never import internal/domain/types directly.
const (
	CommunicationKindNickname        = types.CommunicationKindNickname
	CommunicationKindPersonalMessage = types.CommunicationKindPersonalMessage
	CommunicationKindChannel         = types.CommunicationKindChannel
	CommunicationKindBroadcast       = types.CommunicationKindBroadcast

	RecipientNickname        = types.RecipientNickname
	RecipientPersonalMessage = types.RecipientPersonalMessage
	RecipientChannel         = types.RecipientChannel
	RecipientBroadcast       = types.RecipientBroadcast

	DeliveryStateSending   = types.DeliveryStateSending
	DeliveryStateSent      = types.DeliveryStateSent
	DeliveryStateReceived  = types.DeliveryStateReceived
	DeliveryStateDelivered = types.DeliveryStateDelivered
	DeliveryStateRead      = types.DeliveryStateRead
	DeliveryStateFailed    = types.DeliveryStateFailed

	MessageKindNormal                       = types.MessageKindNormal
	MessageKindFriendshipStateRequest       = types.MessageKindFriendshipStateRequest
	MessageKindDeliveryStateChange          = types.MessageKindDeliveryStateChange
	MessageKindEditMessage                  = types.MessageKindEditMessage
	MessageKindEditMessageMetadata          = types.MessageKindEditMessageMetadata
	MessageKindCommunicationSynchronization = types.MessageKindCommunicationSynchronization
	MessageKindContactCreated               = types.MessageKindContactCreated
	MessageKindAddContacts                  = types.MessageKindAddContacts
	MessageKindRevokeMessage                = types.MessageKindRevokeMessage
	MessageKindDCCSymmetricKey              = types.MessageKindDCCSymmetricKey
	MessageKindUnknownControl               = types.MessageKindUnknownControl

	PriorityUrgent      = types.PriorityUrgent
	PriorityStandard    = types.PriorityStandard
	PriorityBackground  = types.PriorityBackground
	PriorityDelayed     = types.PriorityDelayed
	TaskKindInboundStream = types.TaskKindInboundStream
	TaskKindOutboundWrite = types.TaskKindOutboundWrite

	FriendshipPending    = types.FriendshipPending
	FriendshipRequested  = types.FriendshipRequested
	FriendshipAccepted   = types.FriendshipAccepted
	FriendshipRejected   = types.FriendshipRejected
	FriendshipBlocked    = types.FriendshipBlocked
	FriendshipUnblock    = types.FriendshipUnblock
)

// Function re-exports.
var (
	NewUUID            = types.NewUUID
	NicknameType       = types.NicknameType
	PersonalMessageType = types.PersonalMessageType
	ChannelType        = types.ChannelType
	BroadcastType      = types.BroadcastType
	InboundTask        = types.InboundTask
	OutboundTask       = types.OutboundTask
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	RatchetStateManager = interfaces.RatchetStateManager
	RemoteKeyBundle      = interfaces.RemoteKeyBundle
	LocalKeyBundle       = interfaces.LocalKeyBundle

	EncryptedBlob = interfaces.EncryptedBlob
	SessionStore  = interfaces.SessionStore

	KeysType          = interfaces.KeysType
	RotatedPublicKeys = interfaces.RotatedPublicKeys
	UploadPacket      = interfaces.UploadPacket
	SessionTransport  = interfaces.SessionTransport

	EventReceiver = interfaces.EventReceiver

	SessionDelegate = interfaces.SessionDelegate
)

const (
	KeysTypeCurve = interfaces.KeysTypeCurve
	KeysTypeKyber = interfaces.KeysTypeKyber
)
