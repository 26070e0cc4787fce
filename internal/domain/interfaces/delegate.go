package interfaces

import types "pqsession/internal/domain/types"

// SessionDelegate is the application policy-hook surface.
// Unlike EventReceiver (fire-and-forget notifications) some delegate calls
// change what the core does next: the methods that return a value (the
// Should*/Process* predicates, RetrieveUserInfo, RequestMetadata and the
// Update*Metadata rewriters) are the ones whose result the caller uses.
type SessionDelegate interface {
	SynchronizeCommunication(recipient types.SecretName, sharedIdentifier types.SharedID)
	RequestFriendshipStateChange(
		recipient types.SecretName,
		blockData []byte,
		metadata types.FriendshipMetadata,
		currentState types.FriendshipMetadata,
	)
	DeliveryStateChanged(messageID string, state types.DeliveryState)
	ContactCreated(secretName types.SecretName)
	RequestMetadata(secretName types.SecretName) types.Metadata
	EditMessage(messageID string, newText string)

	ShouldPersist(transportInfo []byte) bool
	RetrieveUserInfo(transportInfo []byte) (secretName types.SecretName, deviceID types.DeviceID, ok bool)

	UpdateCryptoMessageMetadata(message types.CryptoMessage, sharedID types.SharedID) types.CryptoMessage
	UpdateEncryptableMessageMetadata(
		message types.CryptoMessage,
		transportInfo []byte,
		identity types.SessionIdentity,
		recipient types.MessageRecipient,
	) types.CryptoMessage

	ShouldFinishCommunicationSynchronization(transportInfo []byte) bool
	ProcessUnpersistedMessage(message types.CryptoMessage, sender types.SecretName, senderDevice types.DeviceID) bool
}
