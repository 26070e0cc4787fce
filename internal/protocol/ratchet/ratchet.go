package ratchet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/domain/interfaces"
)

const maxSkippedMK = 1000

var (
	errChainUninitialised = errors.New("ratchet: chain key uninitialised")
	errStateNil           = errors.New("ratchet: state uninitialised")
)

// state is the opaque blob handed back and forth across the
// interfaces.RatchetStateManager boundary. Nothing outside this package
// looks inside it; it round-trips through BSON like every other persisted
// record in the engine.
type state struct {
	RootKey   []byte                    `bson:"root_key"`
	DHPriv    domain.X25519Private      `bson:"dh_priv"`
	DHPub     domain.X25519Public       `bson:"dh_pub"`
	PeerDHPub domain.X25519Public       `bson:"peer_dh_pub"`
	SendCK    []byte                    `bson:"send_ck,omitempty"`
	RecvCK    []byte                    `bson:"recv_ck,omitempty"`
	PN        uint32                    `bson:"pn"`
	Ns        uint32                    `bson:"ns"`
	Nr        uint32                    `bson:"nr"`
	Skipped   map[string][]byte         `bson:"skipped"`
}

// Manager is the default, production implementation of
// interfaces.RatchetStateManager.
type Manager struct{}

// New returns a ready-to-use hybrid ratchet manager. It holds no state of
// its own; every call is parameterised by the opaque blob the caller passes
// in and gets back.
func New() *Manager { return &Manager{} }

var _ interfaces.RatchetStateManager = (*Manager)(nil)

// SenderInitialization seeds the ratchet for the first outbound message to
// identity. sessionKey is the classical X3DH transcript secret already
// derived by the caller (the identity resolver / ratchet driver); this
// method performs the remaining DH ratchet seeding plus the ML-KEM-1024
// encapsulation against the recipient's Kyber key, then mixes both into the
// root key.
func (m *Manager) SenderInitialization(
	identity domain.SessionIdentity,
	sessionKey []byte,
	remote interfaces.RemoteKeyBundle,
	local interfaces.LocalKeyBundle,
) ([]byte, domain.RatchetMessageHeader, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, domain.RatchetMessageHeader{}, fmt.Errorf("ratchet: generate ratchet key: %w", err)
	}

	dh, err := crypto.DH(priv, remote.LongTerm)
	if err != nil {
		return nil, domain.RatchetMessageHeader{}, fmt.Errorf("ratchet: initial DH: %w", err)
	}
	defer crypto.Wipe(dh[:])

	ciphertext, kemSecret, err := crypto.Encapsulate(remote.Kyber)
	if err != nil {
		return nil, domain.RatchetMessageHeader{}, fmt.Errorf("ratchet: kem encapsulate: %w", err)
	}
	defer crypto.Wipe(kemSecret)

	ikm := make([]byte, 0, len(sessionKey)+len(dh)+len(kemSecret)+32)
	ikm = append(ikm, sessionKey...)
	ikm = append(ikm, dh[:]...)
	ikm = append(ikm, kemSecret...)
	if remote.OneTime != nil {
		dhOT, err := crypto.DH(priv, *remote.OneTime)
		if err != nil {
			return nil, domain.RatchetMessageHeader{}, fmt.Errorf("ratchet: one-time DH: %w", err)
		}
		ikm = append(ikm, dhOT[:]...)
		crypto.Wipe(dhOT[:])
	}
	defer crypto.Wipe(ikm)

	keys, err := crypto.DeriveKeys(ikm, nil, []byte("pqsession|root"), 2)
	if err != nil {
		return nil, domain.RatchetMessageHeader{}, fmt.Errorf("ratchet: derive root: %w", err)
	}

	localLongTermPub, err := crypto.PublicFromX25519Private(local.LongTerm)
	if err != nil {
		return nil, domain.RatchetMessageHeader{}, fmt.Errorf("ratchet: derive local public key: %w", err)
	}

	st := &state{
		RootKey:   keys[0],
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: remote.LongTerm,
		SendCK:    keys[1],
		Skipped:   make(map[string][]byte),
	}
	raw, err := bson.Marshal(st)
	if err != nil {
		return nil, domain.RatchetMessageHeader{}, fmt.Errorf("ratchet: marshal state: %w", err)
	}

	header := domain.RatchetMessageHeader{
		RemotePublicLongTermKey: localLongTermPub,
		RatchetPublicKey:        pub,
		PreviousChainLength:     0,
		MessageIndex:            0,
		KyberCiphertext:         ciphertext,
	}
	_ = identity // identity is consulted by the ratchet driver, not the primitive itself

	return raw, header, nil
}

// RecipientInitialization seeds the ratchet on first contact from header,
// decapsulating the ML-KEM ciphertext with local.Kyber and performing the
// matching classical DH to reconstruct the same root key the sender derived.
func (m *Manager) RecipientInitialization(
	identity domain.SessionIdentity,
	sessionKey []byte,
	remote interfaces.RemoteKeyBundle,
	local interfaces.LocalKeyBundle,
	header domain.RatchetMessageHeader,
) ([]byte, error) {
	// header.RatchetPublicKey is the sender's freshly generated DH-ratchet
	// key, the same one SenderInitialization DH'd against remote.LongTerm
	// (which, from the sender's side, names this device). So the matching
	// leg here is our long-term private key against that ratchet key, not
	// against header.RemotePublicLongTermKey (the sender's identity key).
	dh, err := crypto.DH(local.LongTerm, header.RatchetPublicKey)
	if err != nil {
		return nil, fmt.Errorf("ratchet: initial DH: %w", err)
	}
	defer crypto.Wipe(dh[:])

	kemSecret, err := crypto.Decapsulate(local.Kyber, header.KyberCiphertext)
	if err != nil {
		return nil, fmt.Errorf("ratchet: kem decapsulate: %w", err)
	}
	defer crypto.Wipe(kemSecret)

	ikm := make([]byte, 0, len(sessionKey)+len(dh)+len(kemSecret)+32)
	ikm = append(ikm, sessionKey...)
	ikm = append(ikm, dh[:]...)
	ikm = append(ikm, kemSecret...)
	if local.OneTime != nil {
		dhOT, err := crypto.DH(*local.OneTime, header.RatchetPublicKey)
		if err != nil {
			return nil, fmt.Errorf("ratchet: one-time DH: %w", err)
		}
		ikm = append(ikm, dhOT[:]...)
		crypto.Wipe(dhOT[:])
	}
	defer crypto.Wipe(ikm)

	keys, err := crypto.DeriveKeys(ikm, nil, []byte("pqsession|root"), 2)
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive root: %w", err)
	}

	_ = identity
	_ = remote

	localLongTermPub, err := crypto.PublicFromX25519Private(local.LongTerm)
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive local public key: %w", err)
	}

	st := &state{
		RootKey:   keys[0],
		DHPriv:    local.LongTerm,
		DHPub:     localLongTermPub,
		PeerDHPub: header.RatchetPublicKey,
		RecvCK:    keys[1],
		Skipped:   make(map[string][]byte),
	}
	raw, err := bson.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("ratchet: marshal state: %w", err)
	}
	return raw, nil
}

// Encrypt advances the send chain and seals plaintext, performing a lazy DH
// ratchet step on the first send after a ratchet-direction flip.
func (m *Manager) Encrypt(raw []byte, plaintext []byte) ([]byte, domain.RatchetMessage, error) {
	st, err := unmarshal(raw)
	if err != nil {
		return nil, domain.RatchetMessage{}, err
	}

	if st.SendCK == nil {
		if err := ratchetStep(st); err != nil {
			return nil, domain.RatchetMessage{}, err
		}
	}

	mk, err := advanceSend(st)
	if err != nil {
		return nil, domain.RatchetMessage{}, err
	}
	defer crypto.Wipe(mk)

	header := domain.RatchetMessageHeader{
		RatchetPublicKey:    st.DHPub,
		PreviousChainLength: st.PN,
		MessageIndex:        st.Ns,
	}
	nonce, ciphertext, err := crypto.Seal(mk, plaintext, headerAAD(header))
	if err != nil {
		return nil, domain.RatchetMessage{}, fmt.Errorf("ratchet: seal: %w", err)
	}
	st.Ns++

	newRaw, err := bson.Marshal(st)
	if err != nil {
		return nil, domain.RatchetMessage{}, fmt.Errorf("ratchet: marshal state: %w", err)
	}

	return newRaw, domain.RatchetMessage{
		Header:     header,
		Ciphertext: append(nonce, ciphertext...),
	}, nil
}

// Decrypt advances the receive chain, handling skipped keys and ratchet
// steps, and opens message.Ciphertext.
func (m *Manager) Decrypt(raw []byte, message domain.RatchetMessage) ([]byte, []byte, error) {
	st, err := unmarshal(raw)
	if err != nil {
		return nil, nil, err
	}
	header := message.Header

	if len(message.Ciphertext) < chacha20poly1305NonceSize {
		return nil, nil, errors.New("ratchet: ciphertext too short")
	}
	nonce, ciphertext := message.Ciphertext[:chacha20poly1305NonceSize], message.Ciphertext[chacha20poly1305NonceSize:]

	// Skipped keys are stored under the chain they belong to, so a message
	// from a superseded chain still finds its key after later ratchet turns.
	keyID := skippedKeyID(header.RatchetPublicKey, header.MessageIndex)
	if mk, ok := st.Skipped[keyID]; ok {
		delete(st.Skipped, keyID)
		plaintext, err := crypto.Open(mk, nonce, ciphertext, headerAAD(header))
		crypto.Wipe(mk)
		if err != nil {
			return nil, nil, fmt.Errorf("ratchet: open skipped: %w", err)
		}
		newRaw, err := bson.Marshal(st)
		if err != nil {
			return nil, nil, fmt.Errorf("ratchet: marshal state: %w", err)
		}
		return newRaw, plaintext, nil
	}

	if st.PeerDHPub != header.RatchetPublicKey {
		// Finish out the old receive chain before turning the ratchet, then
		// skip ahead within the new chain if this message is out of order.
		skipUntil(st, header.PreviousChainLength)
		if err := dhRatchetStep(st, header.RatchetPublicKey); err != nil {
			return nil, nil, err
		}
	}
	skipUntil(st, header.MessageIndex)

	mk, err := advanceRecv(st)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.Wipe(mk)

	plaintext, err := crypto.Open(mk, nonce, ciphertext, headerAAD(header))
	if err != nil {
		return nil, nil, fmt.Errorf("ratchet: open: %w", err)
	}
	st.Nr++

	newRaw, err := bson.Marshal(st)
	if err != nil {
		return nil, nil, fmt.Errorf("ratchet: marshal state: %w", err)
	}
	return newRaw, plaintext, nil
}

const chacha20poly1305NonceSize = 24 // XChaCha20-Poly1305

func unmarshal(raw []byte) (*state, error) {
	var st state
	if err := bson.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("ratchet: unmarshal state: %w", err)
	}
	if st.Skipped == nil {
		st.Skipped = make(map[string][]byte)
	}
	return &st, nil
}

// ratchetStep performs the lazy responder-side ratchet: generate a new DH
// keypair and derive a fresh send chain from the existing peer public key.
func ratchetStep(st *state) error {
	st.PN = st.Ns
	st.Ns, st.Nr = 0, 0

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return fmt.Errorf("ratchet: generate dh key: %w", err)
	}
	dh, err := crypto.DH(priv, st.PeerDHPub)
	if err != nil {
		return fmt.Errorf("ratchet: dh: %w", err)
	}
	defer crypto.Wipe(dh[:])

	keys, err := crypto.DeriveKeys(dh[:], st.RootKey, []byte("pqsession|dr"), 2)
	if err != nil {
		return fmt.Errorf("ratchet: derive chain: %w", err)
	}
	st.RootKey, st.DHPriv, st.DHPub, st.SendCK = keys[0], priv, pub, keys[1]
	return nil
}

// dhRatchetStep performs a full DH ratchet turn on receipt of a new peer
// public key: derive the receive chain from the existing key pair, then
// generate a fresh key pair and derive the next send chain.
func dhRatchetStep(st *state, peerPub domain.X25519Public) error {
	dh, err := crypto.DH(st.DHPriv, peerPub)
	if err != nil {
		return fmt.Errorf("ratchet: dh: %w", err)
	}
	keys, err := crypto.DeriveKeys(dh[:], st.RootKey, []byte("pqsession|dr"), 2)
	crypto.Wipe(dh[:])
	if err != nil {
		return fmt.Errorf("ratchet: derive recv chain: %w", err)
	}
	newRoot, recvCK := keys[0], keys[1]

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return fmt.Errorf("ratchet: generate dh key: %w", err)
	}
	dh2, err := crypto.DH(priv, peerPub)
	if err != nil {
		return fmt.Errorf("ratchet: dh: %w", err)
	}
	keys2, err := crypto.DeriveKeys(dh2[:], newRoot, []byte("pqsession|dr"), 2)
	crypto.Wipe(dh2[:])
	if err != nil {
		return fmt.Errorf("ratchet: derive send chain: %w", err)
	}

	st.PN, st.Ns, st.Nr = st.Ns, 0, 0
	st.RootKey, st.DHPriv, st.DHPub, st.PeerDHPub, st.SendCK, st.RecvCK = keys2[0], priv, pub, peerPub, keys2[1], recvCK
	return nil
}

func advanceSend(st *state) ([]byte, error) {
	if st.SendCK == nil {
		return nil, errChainUninitialised
	}
	keys, err := crypto.DeriveKeys(st.SendCK, nil, []byte("pqsession|ck"), 2)
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive send key: %w", err)
	}
	st.SendCK = keys[0]
	return keys[1], nil
}

func advanceRecv(st *state) ([]byte, error) {
	if st.RecvCK == nil {
		return nil, errChainUninitialised
	}
	keys, err := crypto.DeriveKeys(st.RecvCK, nil, []byte("pqsession|ck"), 2)
	if err != nil {
		return nil, fmt.Errorf("ratchet: derive recv key: %w", err)
	}
	st.RecvCK = keys[0]
	return keys[1], nil
}

func skipUntil(st *state, pn uint32) {
	for st.Nr < pn {
		mk, err := advanceRecv(st)
		if err != nil {
			return
		}
		if len(st.Skipped) >= maxSkippedMK {
			for k := range st.Skipped {
				delete(st.Skipped, k)
				break
			}
		}
		st.Skipped[skippedKeyID(st.PeerDHPub, st.Nr)] = mk
		st.Nr++
	}
}

func skippedKeyID(pub domain.X25519Public, n uint32) string {
	var buf [36]byte
	copy(buf[:32], pub[:])
	binary.BigEndian.PutUint32(buf[32:], n)
	return string(buf[:])
}

func headerAAD(h domain.RatchetMessageHeader) []byte {
	out := make([]byte, 0, 32+8)
	out = append(out, h.RatchetPublicKey[:]...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], h.PreviousChainLength)
	out = append(out, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.MessageIndex)
	out = append(out, tmp[:]...)
	return out
}
