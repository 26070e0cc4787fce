// Package friendship implements the three-value local friendship view and
// its action/transition rules: myState, theirState, and the
// derived ourState a dispatcher or application can act on directly.
package friendship

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
)

// metadataKey is the CryptoMessage.Metadata field a friendshipStateRequest
// carries its full FriendshipMetadata triple under.
const metadataKey = "friendship_state"

// SendFriendRequest sets myState to requested, then recomputes ourState.
func SendFriendRequest(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	m.MyState = domain.FriendshipRequested
	return updateOurState(m)
}

// AcceptFriendRequest sets myState to accepted.
func AcceptFriendRequest(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	m.MyState = domain.FriendshipAccepted
	return updateOurState(m)
}

// RejectFriendRequest sets myState to rejected.
func RejectFriendRequest(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	m.MyState = domain.FriendshipRejected
	return updateOurState(m)
}

// RevokeFriendRequest sets myState back to pending.
func RevokeFriendRequest(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	m.MyState = domain.FriendshipPending
	return updateOurState(m)
}

// BlockFriend models "I blocked them": theirState becomes blocked.
func BlockFriend(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	m.TheirState = domain.FriendshipBlocked
	return updateOurState(m)
}

// UnBlockFriend reverses BlockFriend: theirState returns to pending.
func UnBlockFriend(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	m.TheirState = domain.FriendshipPending
	return updateOurState(m)
}

// updateOurState recomputes OurState from MyState/TheirState, in a fixed
// priority order; it is called after every mutation
// above so OurState never drifts out of sync.
func updateOurState(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	switch {
	case m.MyState == domain.FriendshipBlocked:
		// ourState unchanged.
	case m.MyState == domain.FriendshipAccepted && m.TheirState == domain.FriendshipAccepted:
		m.OurState = domain.FriendshipAccepted
	case m.MyState == domain.FriendshipRequested && m.TheirState == domain.FriendshipPending:
		m.OurState = domain.FriendshipRequested
	case m.MyState == domain.FriendshipRejected || m.TheirState == domain.FriendshipRejected:
		m.OurState = domain.FriendshipRejected
	case m.MyState == domain.FriendshipPending && m.TheirState == domain.FriendshipPending:
		m.OurState = domain.FriendshipPending
	default:
		m.OurState = domain.FriendshipPending
	}
	return m
}

// SetTheirState applies an inbound friendshipStateRequest's reported state
// as our view of the peer's perspective, then recomputes OurState. This is
// the entry point the dispatcher uses when theirState arrives via an
// inbound control message.
func SetTheirState(m domain.FriendshipMetadata, state domain.FriendshipState) domain.FriendshipMetadata {
	m.TheirState = state
	return updateOurState(m)
}

// SwitchStates swaps MyState and TheirState, flipping perspective from
// sender to receiver on an inbound friendshipStateRequest, then recomputes
// OurState for the new perspective.
func SwitchStates(m domain.FriendshipMetadata) domain.FriendshipMetadata {
	m.MyState, m.TheirState = m.TheirState, m.MyState
	return updateOurState(m)
}

// EncodeMetadata packs m the way a friendshipStateRequest CryptoMessage
// carries it: the full FriendshipMetadata triple, BSON-encoded and
// base64-wrapped into a single Metadata field, so the receiving side always
// sees the sender's whole my/their/our view rather than one flag.
func EncodeMetadata(m domain.FriendshipMetadata) domain.Metadata {
	raw, err := bson.Marshal(m)
	if err != nil {
		// FriendshipMetadata is three small enums; a marshal failure here
		// means a programming error, not a runtime condition callers can
		// recover from.
		panic(fmt.Sprintf("friendship: marshal metadata: %v", err))
	}
	return domain.Metadata{metadataKey: crypto.B64(raw)}
}

// DecodeMetadata reverses EncodeMetadata, reporting false if meta carries
// no (well-formed) FriendshipMetadata payload.
func DecodeMetadata(meta domain.Metadata) (domain.FriendshipMetadata, bool) {
	raw, ok := meta[metadataKey]
	if !ok {
		return domain.FriendshipMetadata{}, false
	}
	encoded, ok := raw.(string)
	if !ok {
		return domain.FriendshipMetadata{}, false
	}
	packed, err := crypto.B64Decode(encoded)
	if err != nil {
		return domain.FriendshipMetadata{}, false
	}
	var m domain.FriendshipMetadata
	if err := bson.Unmarshal(packed, &m); err != nil {
		return domain.FriendshipMetadata{}, false
	}
	return m, true
}
