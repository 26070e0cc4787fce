package interfaces

import types "pqsession/internal/domain/types"

// RemoteKeyBundle names the peer-side key material a handshake mixes in.
type RemoteKeyBundle struct {
	LongTerm types.X25519Public
	OneTime  *types.X25519Public
	Kyber    types.KyberPublicKey
}

// LocalKeyBundle names the local private key material a handshake mixes in.
type LocalKeyBundle struct {
	LongTerm types.X25519Private
	OneTime  *types.X25519Private
	Kyber    types.KyberPrivateKey
}

// RatchetStateManager is the external Double Ratchet primitive the driver
// treats as an assumed callable collaborator. The
// core never inspects or constructs ratchet state directly: it always goes
// through this interface, treating the returned state as opaque bytes owned
// by the SessionIdentity record.
type RatchetStateManager interface {
	// SenderInitialization seeds the ratchet for the first outbound message
	// to identity, deriving the root key from sessionKey (already mixed via
	// X3DH-like KDF) plus the remote/local key bundles, and returns the new
	// opaque state plus the header fields the first envelope must carry.
	SenderInitialization(
		identity types.SessionIdentity,
		sessionKey []byte,
		remote RemoteKeyBundle,
		local LocalKeyBundle,
	) (state []byte, header types.RatchetMessageHeader, err error)

	// RecipientInitialization seeds the ratchet on first contact from the
	// sender side, given the header the sender attached.
	RecipientInitialization(
		identity types.SessionIdentity,
		sessionKey []byte,
		remote RemoteKeyBundle,
		local LocalKeyBundle,
		header types.RatchetMessageHeader,
	) (state []byte, err error)

	// Encrypt advances the send chain and seals plaintext, returning the
	// updated opaque state and the message to put on the wire.
	Encrypt(state []byte, plaintext []byte) (newState []byte, message types.RatchetMessage, err error)

	// Decrypt advances the receive chain (performing a DH ratchet step if
	// the header carries a new ratchet public key) and opens ciphertext.
	Decrypt(state []byte, message types.RatchetMessage) (newState []byte, plaintext []byte, err error)
}
