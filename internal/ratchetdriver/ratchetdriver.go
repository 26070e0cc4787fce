// Package ratchetdriver implements the two Ratchet Driver entry points:
// handleWriteMessage for outbound jobs and
// handleStreamMessage for inbound jobs. It is the queue.Driver the Job
// Queue (internal/queue) invokes for every JobModel it dispatches.
package ratchetdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"pqsession/internal/crypto"
	"pqsession/internal/dispatcher"
	"pqsession/internal/domain"
	"pqsession/internal/domain/interfaces"
	"pqsession/internal/envelope"
	"pqsession/internal/identityresolver"
	"pqsession/internal/protocol/x3dh"
	"pqsession/internal/queue"
)

// Driver wires the ratchet primitive, identity resolution, and the
// dispatcher together into the single collaborator the Job Queue calls.
// Every method here runs on the Serialized Executor: the
// queue only ever submits one HandleTask invocation at a time, so the
// read-modify-write sequences below (load identity, mutate, persist) need
// no locking of their own.
type Driver struct {
	store       domain.SessionStore
	transport   domain.SessionTransport
	databaseKey []byte
	ratchet     domain.RatchetStateManager
	resolver    *identityresolver.Resolver
	dispatch    *dispatcher.Dispatcher
	delegate    domain.SessionDelegate
	me          domain.SessionUser

	// stash holds inbound tasks that could not be decrypted because their
	// initializing message has not arrived yet. stashKeys de-duplicates
	// by shared message id so the same task is never queued twice.
	mu        sync.Mutex
	stash     []domain.InboundTaskMessage
	stashKeys map[string]bool
}

// New returns a Driver ready to handle tasks the Job Queue submits.
func New(
	store domain.SessionStore,
	transport domain.SessionTransport,
	databaseKey []byte,
	ratchetManager domain.RatchetStateManager,
	resolver *identityresolver.Resolver,
	dispatch *dispatcher.Dispatcher,
	delegate domain.SessionDelegate,
	me domain.SessionUser,
) *Driver {
	return &Driver{
		store:       store,
		transport:   transport,
		databaseKey: databaseKey,
		ratchet:     ratchetManager,
		resolver:    resolver,
		dispatch:    dispatch,
		delegate:    delegate,
		me:          me,
		stashKeys:   make(map[string]bool),
	}
}

var _ queue.Driver = (*Driver)(nil)

// HandleTask satisfies queue.Driver: it branches on task.Kind to the
// outbound or inbound entry point.
func (d *Driver) HandleTask(ctx context.Context, task domain.Task) error {
	switch task.Kind {
	case domain.TaskKindOutboundWrite:
		return d.handleWriteMessage(ctx, task.Outbound)
	case domain.TaskKindInboundStream:
		return d.handleStreamMessage(ctx, task.Inbound)
	default:
		return fmt.Errorf("ratchetdriver: unknown task kind %v", task.Kind)
	}
}

// handleWriteMessage handles an outbound job: encrypt and send.
func (d *Driver) handleWriteMessage(ctx context.Context, msg *domain.OutboundTaskMessage) error {
	identity, err := d.loadIdentityByID(ctx, msg.RecipientIdentityID)
	if err != nil {
		return err
	}
	sessionContext, err := d.loadSessionContext(ctx)
	if err != nil {
		return err
	}

	firstContact := !identity.Initialized()
	var usedLocalOneTime *domain.OneTimeKeyID
	var usedLocalKyberOneTime *domain.OneTimeKeyID
	var state []byte
	var initHeader domain.RatchetMessageHeader

	if firstContact {
		if err := d.ensureRemoteOneTimeKeys(ctx, &identity); err != nil {
			return err
		}

		var ourOneTimePriv *domain.X25519Private
		if pair, ok := sessionContext.DeviceKeys.MostRecentOneTimeKey(); ok {
			scalar := pair.Scalar
			ourOneTimePriv = &scalar
			id := pair.ID
			usedLocalOneTime = &id
		}

		var localKyber domain.KyberPrivateKey
		if pair, ok := sessionContext.DeviceKeys.MostRecentKyberOneTimeKey(); ok {
			localKyber = pair.Secret
			id := pair.ID
			usedLocalKyberOneTime = &id
		} else {
			localKyber = sessionContext.DeviceKeys.FinalKyberPrivateKey
		}

		var theirOneTimePub *domain.X25519Public
		if identity.RemoteOneTimePublicKey != nil {
			key := identity.RemoteOneTimePublicKey.Key
			theirOneTimePub = &key
		}
		var remoteKyber domain.KyberPublicKey
		if identity.RemoteKyberPublicKey != nil {
			remoteKyber = identity.RemoteKyberPublicKey.Key
		}

		sessionKey, err := x3dh.InitiatorSessionKey(
			sessionContext.DeviceKeys.PrivateLongTermKey,
			ourOneTimePriv,
			identity.PublicLongTermKey,
			theirOneTimePub,
		)
		if err != nil {
			return fmt.Errorf("ratchetdriver: derive session key: %w", err)
		}

		remote := interfaces.RemoteKeyBundle{LongTerm: identity.PublicLongTermKey, OneTime: theirOneTimePub, Kyber: remoteKyber}
		local := interfaces.LocalKeyBundle{LongTerm: sessionContext.DeviceKeys.PrivateLongTermKey, OneTime: ourOneTimePriv, Kyber: localKyber}

		newState, header, err := d.ratchet.SenderInitialization(identity, sessionKey, remote, local)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrAuthenticationFailure, err)
		}
		state = newState

		// These ids name the RECIPIENT's published one-time keys we just
		// consumed, so the recipient knows which of its own private keys to
		// pull for the matching DH/decapsulation — not which of ours.
		if identity.RemoteOneTimePublicKey != nil {
			id := identity.RemoteOneTimePublicKey.ID
			header.CurveOneTimeKeyID = &id
		}
		if identity.RemoteKyberPublicKey != nil {
			id := identity.RemoteKyberPublicKey.ID
			header.KyberOneTimeKeyID = &id
		}
		if ourOneTimePriv != nil {
			pub, err := crypto.PublicFromX25519Private(*ourOneTimePriv)
			if err != nil {
				return fmt.Errorf("ratchetdriver: derive one-time public key: %w", err)
			}
			header.RemotePublicOneTimeKey = &pub
		}
		initHeader = header

		if err := d.removeUsedKeys(ctx, &sessionContext, usedLocalOneTime, usedLocalKyberOneTime); err != nil {
			return err
		}
		identity.RemoteOneTimePublicKey = nil
		identity.RemoteKyberPublicKey = nil
	} else {
		state = identity.State
	}

	message := msg.Message
	if d.delegate != nil {
		message = d.delegate.UpdateCryptoMessageMetadata(message, msg.SharedID)
		message = d.delegate.UpdateEncryptableMessageMetadata(message, message.TransportInfo, identity, message.Recipient)
	}

	plaintext, err := bson.Marshal(message)
	if err != nil {
		return fmt.Errorf("ratchetdriver: encode message: %w", err)
	}

	newState, ratchetMessage, err := d.ratchet.Encrypt(state, plaintext)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEncryptFailed, err)
	}
	if firstContact {
		// The ratchet primitive's own header only carries its internal DH
		// ratchet fields; the X3DH-like handshake fields (identity/one-time
		// key ids, Kyber ciphertext) computed above must ride along on this
		// first envelope so the recipient can locate the right keys.
		ratchetMessage.Header.RemotePublicLongTermKey = initHeader.RemotePublicLongTermKey
		ratchetMessage.Header.RemotePublicOneTimeKey = initHeader.RemotePublicOneTimeKey
		ratchetMessage.Header.KyberCiphertext = initHeader.KyberCiphertext
		ratchetMessage.Header.CurveOneTimeKeyID = initHeader.CurveOneTimeKeyID
		ratchetMessage.Header.KyberOneTimeKeyID = initHeader.KyberOneTimeKeyID
	}

	data, err := bson.Marshal(ratchetMessage)
	if err != nil {
		return fmt.Errorf("ratchetdriver: encode ratchet message: %w", err)
	}
	signed := domain.SignedRatchetMessage{
		Data:      data,
		Signature: crypto.SignEd25519(sessionContext.DeviceKeys.PrivateSigningKey, data),
	}

	metadata := domain.SignedRatchetMessageMetadata{
		RecipientSecretName: identity.SecretName,
		RecipientDeviceID:   identity.DeviceID,
		RecipientTag:        message.Recipient,
		TransportInfo:       message.TransportInfo,
		SharedMessageID:     msg.SharedID,
	}
	if err := d.transport.SendMessage(ctx, signed, metadata); err != nil {
		return fmt.Errorf("ratchetdriver: send message: %w", err)
	}

	identity.State = newState
	if err := d.persistIdentity(ctx, identity); err != nil {
		return err
	}
	return nil
}

// handleStreamMessage handles an inbound job: decrypt and dispatch.
func (d *Driver) handleStreamMessage(ctx context.Context, msg *domain.InboundTaskMessage) error {
	// Step 1: drain the stash before touching the current message, in
	// insertion order; a stashed task that still cannot decrypt goes back
	// into the stash for the next inbound to retry.
	d.drainStash(ctx)

	return d.processInbound(ctx, *msg)
}

// processInbound runs the verify/init/decrypt/dispatch pipeline for one
// inbound task. A task that cannot be decrypted yet (its initializing
// message has not arrived) goes back into the stash rather than erroring;
// the stashKeys de-dup keeps a re-stash from duplicating it.
func (d *Driver) processInbound(ctx context.Context, msg domain.InboundTaskMessage) error {
	// Step 2: verification.
	identities, err := d.resolver.RefreshIdentities(ctx, msg.SenderSecretName)
	if err != nil {
		return fmt.Errorf("ratchetdriver: refresh identities: %w", err)
	}
	var identity domain.SessionIdentity
	found := false
	for _, candidate := range identities {
		if candidate.DeviceID == msg.SenderDeviceID {
			identity, found = candidate, true
			break
		}
	}
	if !found {
		return domain.ErrMissingSessionIdentity
	}

	if !crypto.VerifyEd25519(identity.PublicSigningKey, msg.Message.Data, msg.Message.Signature) {
		return domain.ErrInvalidSignature
	}

	var ratchetMessage domain.RatchetMessage
	if err := bson.Unmarshal(msg.Message.Data, &ratchetMessage); err != nil {
		return fmt.Errorf("ratchetdriver: decode ratchet message: %w", err)
	}

	// Step 3: recipient initialization on first contact.
	firstContact := !identity.Initialized()
	var state []byte
	if firstContact {
		if ratchetMessage.Header.KyberCiphertext == nil {
			// This message does not carry a handshake payload, so the
			// ratchet cannot be seeded from it: the peer's actual initial
			// message has not arrived yet.
			d.stashTask(msg)
			return nil
		}

		sessionContext, err := d.loadSessionContext(ctx)
		if err != nil {
			return err
		}

		var localOneTimePriv *domain.X25519Private
		if ratchetMessage.Header.CurveOneTimeKeyID != nil {
			if pair, ok := sessionContext.DeviceKeys.FindOneTimeKey(*ratchetMessage.Header.CurveOneTimeKeyID); ok {
				scalar := pair.Scalar
				localOneTimePriv = &scalar
			}
		}
		var localKyber domain.KyberPrivateKey
		if ratchetMessage.Header.KyberOneTimeKeyID != nil {
			if pair, ok := sessionContext.DeviceKeys.FindKyberOneTimeKey(*ratchetMessage.Header.KyberOneTimeKeyID); ok {
				localKyber = pair.Secret
			}
		}
		if localKyber == nil {
			localKyber = sessionContext.DeviceKeys.FinalKyberPrivateKey
		}

		var theirOneTimePub *domain.X25519Public
		if ratchetMessage.Header.RemotePublicOneTimeKey != nil {
			key := *ratchetMessage.Header.RemotePublicOneTimeKey
			theirOneTimePub = &key
		}

		sessionKey, err := x3dh.ResponderSessionKey(
			sessionContext.DeviceKeys.PrivateLongTermKey,
			localOneTimePriv,
			ratchetMessage.Header.RemotePublicLongTermKey,
			theirOneTimePub,
		)
		if err != nil {
			return fmt.Errorf("ratchetdriver: derive session key: %w", err)
		}

		remote := interfaces.RemoteKeyBundle{
			LongTerm: ratchetMessage.Header.RemotePublicLongTermKey,
			OneTime:  theirOneTimePub,
			Kyber:    ratchetMessage.Header.RemoteKyber1024PublicKey,
		}
		local := interfaces.LocalKeyBundle{
			LongTerm: sessionContext.DeviceKeys.PrivateLongTermKey,
			OneTime:  localOneTimePriv,
			Kyber:    localKyber,
		}

		newState, err := d.ratchet.RecipientInitialization(identity, sessionKey, remote, local, ratchetMessage.Header)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrAuthenticationFailure, err)
		}
		state = newState

		if err := d.removeUsedKeys(ctx, &sessionContext, ratchetMessage.Header.CurveOneTimeKeyID, ratchetMessage.Header.KyberOneTimeKeyID); err != nil {
			return err
		}
	} else {
		state = identity.State
	}

	// Step 4/5/6: decrypt and decode, stashing on a still-uninitialized
	// ratchet rather than erroring.
	newState, plaintext, err := d.ratchet.Decrypt(state, ratchetMessage)
	if err != nil {
		if firstContact || ratchetMessage.Header.KyberCiphertext != nil {
			// Either the handshake just ran above, or this is a replayed
			// first-contact envelope for an already-initialised identity;
			// both make a decrypt failure here a genuine authentication
			// failure, not a stash case.
			return fmt.Errorf("%w: %v", domain.ErrAuthenticationFailure, err)
		}
		d.stashTask(msg)
		return nil
	}

	var decoded domain.CryptoMessage
	if err := bson.Unmarshal(plaintext, &decoded); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaMismatch, err)
	}

	identity.State = newState
	if err := d.persistIdentity(ctx, identity); err != nil {
		return err
	}

	// Step 7: application pre-persist hook.
	if d.delegate != nil && !d.delegate.ProcessUnpersistedMessage(decoded, msg.SenderSecretName, msg.SenderDeviceID) {
		return nil
	}

	// Step 8: hand off to the dispatcher.
	return d.dispatch.Dispatch(ctx, msg.SenderSecretName, msg.SenderDeviceID, decoded, msg.SharedMessageID)
}

// stashTask records msg in the in-memory stash, de-duplicated by shared
// message id.
func (d *Driver) stashTask(msg domain.InboundTaskMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(msg.SharedMessageID)
	if d.stashKeys[key] {
		return
	}
	d.stashKeys[key] = true
	d.stash = append(d.stash, msg)
}

// drainStash retries every stashed task once, in insertion order.
// Successful decodes stay out of the stash; ones that still cannot
// decrypt re-enter it for the next inbound to retry.
func (d *Driver) drainStash(ctx context.Context) {
	d.mu.Lock()
	pending := d.stash
	d.stash = nil
	d.stashKeys = make(map[string]bool)
	d.mu.Unlock()

	for _, task := range pending {
		_ = d.processInbound(ctx, task)
	}
}

// removeUsedKeys tells the
// transport to delete the consumed one-time keys, then re-encrypts and
// persists the session context with both private sequences pruned.
func (d *Driver) removeUsedKeys(ctx context.Context, sessionContext *domain.SessionContext, curveID, kyberID *domain.OneTimeKeyID) error {
	if curveID == nil && kyberID == nil {
		return nil
	}
	if curveID != nil {
		if err := d.transport.DeleteOneTimeKey(ctx, d.me.SecretName, d.me.DeviceID, interfaces.KeysTypeCurve, *curveID); err != nil {
			return fmt.Errorf("ratchetdriver: delete used curve one-time key: %w", err)
		}
		sessionContext.DeviceKeys = sessionContext.DeviceKeys.WithoutOneTimeKey(*curveID)
		sessionContext.LastUserConfiguration.SignedOneTimeKeys = removeSignedOneTime(sessionContext.LastUserConfiguration.SignedOneTimeKeys, *curveID)
	}
	if kyberID != nil {
		if err := d.transport.DeleteOneTimeKey(ctx, d.me.SecretName, d.me.DeviceID, interfaces.KeysTypeKyber, *kyberID); err != nil {
			return fmt.Errorf("ratchetdriver: delete used kyber one-time key: %w", err)
		}
		sessionContext.DeviceKeys = sessionContext.DeviceKeys.WithoutKyberOneTimeKey(*kyberID)
		sessionContext.LastUserConfiguration.SignedKyberOneTimeKeys = removeSignedKyberOneTime(sessionContext.LastUserConfiguration.SignedKyberOneTimeKeys, *kyberID)
	}
	return d.persistSessionContext(ctx, *sessionContext)
}

func removeSignedOneTime(in []domain.SignedOneTimeKeyPublic, id domain.OneTimeKeyID) []domain.SignedOneTimeKeyPublic {
	out := make([]domain.SignedOneTimeKeyPublic, 0, len(in))
	for _, k := range in {
		if k.ID == id {
			continue
		}
		out = append(out, k)
	}
	return out
}

func removeSignedKyberOneTime(in []domain.SignedKyberOneTimeKeyPublic, id domain.OneTimeKeyID) []domain.SignedKyberOneTimeKeyPublic {
	out := make([]domain.SignedKyberOneTimeKeyPublic, 0, len(in))
	for _, k := range in {
		if k.ID == id {
			continue
		}
		out = append(out, k)
	}
	return out
}

// ensureRemoteOneTimeKeys fetches and attaches a remote one-time key and a
// remote Kyber one-time key for identity if it doesn't already carry them
// (the identity resolver never populates these; they're consumed lazily,
// only on the first outbound handshake to that identity).
func (d *Driver) ensureRemoteOneTimeKeys(ctx context.Context, identity *domain.SessionIdentity) error {
	if identity.RemoteOneTimePublicKey == nil {
		raw, err := d.transport.FetchOneTimeKey(ctx, identity.SecretName, identity.DeviceID, interfaces.KeysTypeCurve)
		if err != nil {
			return fmt.Errorf("ratchetdriver: fetch remote one-time key: %w", err)
		}
		if raw != nil {
			var key domain.SignedOneTimeKeyPublic
			if err := bson.Unmarshal(raw, &key); err == nil {
				identity.RemoteOneTimePublicKey = &key.OneTimeKeyPublic
			}
		}
	}
	if identity.RemoteKyberPublicKey == nil {
		raw, err := d.transport.FetchOneTimeKey(ctx, identity.SecretName, identity.DeviceID, interfaces.KeysTypeKyber)
		if err != nil {
			return fmt.Errorf("ratchetdriver: fetch remote kyber one-time key: %w", err)
		}
		if raw != nil {
			var key domain.SignedKyberOneTimeKeyPublic
			if err := bson.Unmarshal(raw, &key); err == nil {
				identity.RemoteKyberPublicKey = &key.KyberOneTimeKeyPublic
			}
		}
	}
	return nil
}

func (d *Driver) loadIdentityByID(ctx context.Context, id uuid.UUID) (domain.SessionIdentity, error) {
	blobs, err := d.store.FetchAllIdentities(ctx)
	if err != nil {
		return domain.SessionIdentity{}, fmt.Errorf("ratchetdriver: fetch identities: %w", err)
	}
	for _, blob := range blobs {
		if blob.ID != id {
			continue
		}
		decoded, err := envelope.Open[domain.SessionIdentity](blob, d.databaseKey)
		if err != nil || decoded.Props == nil {
			return domain.SessionIdentity{}, domain.ErrMissingSessionIdentity
		}
		return *decoded.Props, nil
	}
	return domain.SessionIdentity{}, domain.ErrMissingSessionIdentity
}

func (d *Driver) persistIdentity(ctx context.Context, identity domain.SessionIdentity) error {
	blob, _, err := envelope.MakeDecryptedModelWithID(identity.ID, identity, d.databaseKey)
	if err != nil {
		return fmt.Errorf("ratchetdriver: encrypt identity: %w", err)
	}
	if err := d.store.UpdateIdentity(ctx, blob); err != nil {
		return fmt.Errorf("ratchetdriver: persist identity: %w", err)
	}
	return nil
}

func (d *Driver) loadSessionContext(ctx context.Context) (domain.SessionContext, error) {
	blob, ok, err := d.store.FetchSessionContext(ctx)
	if err != nil {
		return domain.SessionContext{}, fmt.Errorf("ratchetdriver: fetch session context: %w", err)
	}
	if !ok {
		return domain.SessionContext{}, domain.ErrSessionNotInitialized
	}
	decoded, err := envelope.Open[domain.SessionContext](blob, d.databaseKey)
	if err != nil || decoded.Props == nil {
		return domain.SessionContext{}, fmt.Errorf("%w: session context", domain.ErrDecryptFailed)
	}
	return *decoded.Props, nil
}

func (d *Driver) persistSessionContext(ctx context.Context, sessionContext domain.SessionContext) error {
	blob, ok, err := d.store.FetchSessionContext(ctx)
	if err != nil {
		return fmt.Errorf("ratchetdriver: fetch session context: %w", err)
	}
	if !ok {
		return domain.ErrSessionNotInitialized
	}
	nonce, ciphertext, err := crypto.Seal(d.databaseKey, mustMarshal(sessionContext), blob.ID[:])
	if err != nil {
		return fmt.Errorf("ratchetdriver: encrypt session context: %w", err)
	}
	updated := domain.EncryptedBlob{ID: blob.ID, Nonce: nonce, Ciphertext: ciphertext}
	if err := d.store.UpdateSessionContext(ctx, updated); err != nil {
		return fmt.Errorf("ratchetdriver: persist session context: %w", err)
	}
	return nil
}

func mustMarshal(v domain.SessionContext) []byte {
	raw, err := bson.Marshal(v)
	if err != nil {
		// SessionContext is a plain data struct with no unmarshalable
		// fields; a marshal failure here means a programming error, not a
		// runtime condition callers can recover from.
		panic(fmt.Sprintf("ratchetdriver: marshal session context: %v", err))
	}
	return raw
}
