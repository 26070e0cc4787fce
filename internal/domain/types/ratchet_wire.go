package types

// RatchetMessageHeader carries everything the recipient needs to locate the
// right keys before the ratchet primitive can decrypt.
type RatchetMessageHeader struct {
	RemotePublicLongTermKey X25519Public    `bson:"remote_public_long_term_key"`
	RemotePublicOneTimeKey  *X25519Public   `bson:"remote_public_one_time_key,omitempty"`
	RemoteKyber1024PublicKey KyberPublicKey `bson:"remote_kyber1024_public_key,omitempty"`
	CurveOneTimeKeyID       *OneTimeKeyID   `bson:"curve_one_time_key_id,omitempty"`
	KyberOneTimeKeyID       *OneTimeKeyID   `bson:"kyber_one_time_key_id,omitempty"`

	// Ratchet-internal counters/DH public key, opaque to everything above
	// the Ratchet Driver.
	RatchetPublicKey    X25519Public `bson:"ratchet_public_key"`
	PreviousChainLength uint32       `bson:"previous_chain_length"`
	MessageIndex        uint32       `bson:"message_index"`

	// KyberCiphertext carries the ML-KEM encapsulation output on the first
	// message of a handshake in either direction; nil afterwards.
	KyberCiphertext []byte `bson:"kyber_ciphertext,omitempty"`
}

// RatchetMessage is the on-wire envelope: opaque ciphertext plus the header
// above.
type RatchetMessage struct {
	Header     RatchetMessageHeader `bson:"header"`
	Ciphertext []byte               `bson:"ciphertext"`
}

// SignedRatchetMessage wraps an encoded RatchetMessage with an Ed25519
// signature over the encoded bytes, so the recipient can authenticate the
// sender device before touching any ratchet state.
type SignedRatchetMessage struct {
	Data      []byte `bson:"data"`
	Signature []byte `bson:"signature"`
}

// SignedRatchetMessageMetadata is the out-of-band routing envelope passed
// to SessionTransport.sendMessage; never signed or encrypted
// itself, the transport may observe it.
type SignedRatchetMessageMetadata struct {
	RecipientSecretName SecretName
	RecipientDeviceID   DeviceID
	RecipientTag        MessageRecipient
	TransportInfo       []byte
	SharedMessageID     SharedID
}
