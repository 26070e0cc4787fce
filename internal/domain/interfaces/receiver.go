package interfaces

import (
	"github.com/google/uuid"

	types "pqsession/internal/domain/types"
)

// EventReceiver is the application-level event sink the core notifies after
// persisting state. It is a pure callback surface: the core
// never awaits a response from it beyond the call returning.
type EventReceiver interface {
	MessageCreated(message types.EncryptedMessage)
	MessageUpdated(message types.EncryptedMessage)
	MessageDeleted(id uuid.UUID)

	ContactCreated(secretName types.SecretName)
	ContactRemoved(secretName types.SecretName)
	ContactUpdated(secretName types.SecretName)
	ContactMetadataChanged(secretName types.SecretName, metadata types.Metadata)

	Synchronize(secretName types.SecretName, requestFriendship bool)
	TransportContactMetadata(secretName types.SecretName, transportInfo []byte)

	UpdatedCommunication(communication types.Communication, members []types.SecretName)
	CreatedChannel(communication types.Communication)

	// LocalNudge is invoked for control message subtypes the dispatcher does
	// not otherwise recognize.
	LocalNudge(sender types.SecretName, senderDevice types.DeviceID, message types.CryptoMessage)
}
