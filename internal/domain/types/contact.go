package types

import "github.com/google/uuid"

// Contact is the local record of one peer secretName's friendship state and
// any per-contact metadata the dispatcher's control-message path maintains.
type Contact struct {
	ID         uuid.UUID          `bson:"_id"`
	SecretName SecretName         `bson:"secret_name"`
	Friendship FriendshipMetadata `bson:"friendship"`
	Metadata   Metadata           `bson:"metadata,omitempty"`
}
