package identityresolver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/envelope"
)

// Resolver implements refreshIdentities against a
// SessionStore and SessionTransport pair.
type Resolver struct {
	store       domain.SessionStore
	transport   domain.SessionTransport
	databaseKey []byte
	me          domain.SessionUser
}

// New returns a Resolver scoped to one local device. databaseKey is the
// 32-byte AEAD key every identity blob is encrypted under.
func New(store domain.SessionStore, transport domain.SessionTransport, databaseKey []byte, me domain.SessionUser) *Resolver {
	return &Resolver{store: store, transport: transport, databaseKey: databaseKey, me: me}
}

// RefreshIdentities discovers, creates, and prunes identities for
// secretName's devices, returning the resulting set of identities stored
// for that peer.
func (r *Resolver) RefreshIdentities(ctx context.Context, secretName domain.SecretName) ([]domain.SessionIdentity, error) {
	blobs, err := r.store.FetchAllIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("identityresolver: fetch identities: %w", err)
	}

	relevant := make(map[domain.DeviceID]envelope.Decrypted[domain.SessionIdentity])
	for _, blob := range blobs {
		decoded, err := envelope.Open[domain.SessionIdentity](blob, r.databaseKey)
		if err != nil || decoded.Props == nil {
			continue // corrupt/foreign record: treat as absent, not fatal
		}
		props := *decoded.Props
		isPeerDevice := props.SecretName == secretName
		isSiblingDevice := props.SecretName == r.me.SecretName && props.DeviceID != r.me.DeviceID
		if isPeerDevice || isSiblingDevice {
			relevant[props.DeviceID] = decoded
		}
	}

	configuration, err := r.transport.FindConfiguration(ctx, secretName)
	if err != nil {
		return nil, fmt.Errorf("identityresolver: find configuration: %w", err)
	}
	if !crypto.VerifyEd25519(configuration.SigningPublicKey, configuration.SignedPayload(), configuration.ConfigurationSignature) {
		return nil, domain.ErrInvalidSignature
	}

	verified := make(map[domain.DeviceID]domain.VerifiedDevice, len(configuration.VerifiedDevices))
	for _, device := range configuration.VerifiedDevices {
		verified[device.DeviceID] = device
	}

	allocated := make(map[domain.SessionContextID]bool)

	for deviceID, device := range verified {
		if deviceID == r.me.DeviceID {
			continue
		}
		if _, exists := relevant[deviceID]; exists {
			continue
		}

		contextID, err := allocateSessionContextID(allocated)
		if err != nil {
			return nil, fmt.Errorf("identityresolver: allocate session context id: %w", err)
		}

		identity := domain.SessionIdentity{
			ID:                domain.NewUUID(),
			SecretName:        secretName,
			DeviceID:          deviceID,
			SessionContextID:  contextID,
			PublicLongTermKey: configuration.LongTermPublicKey,
			PublicSigningKey:  configuration.SigningPublicKey,
			DeviceName:        device.DeviceName,
			IsMasterDevice:    device.IsMaster,
		}

		blob, decoded, err := envelope.MakeDecryptedModelWithID(identity.ID, identity, r.databaseKey)
		if err != nil {
			return nil, fmt.Errorf("identityresolver: encrypt new identity: %w", err)
		}
		if err := r.store.CreateIdentity(ctx, blob); err != nil {
			return nil, fmt.Errorf("identityresolver: persist new identity: %w", err)
		}
		relevant[deviceID] = decoded
	}

	result := make([]domain.SessionIdentity, 0, len(relevant))
	for deviceID, decoded := range relevant {
		props := *decoded.Props
		_, stillVerified := verified[deviceID]
		// Only this call's fetched configuration can judge staleness, so
		// pruning applies to identities owned by the refreshed secretName.
		// That covers siblings too when secretName is our own: a revoked
		// local device must drop out once our configuration no longer
		// lists it. Sibling identities swept up by a peer refresh stay
		// untouched, since the peer's verified set says nothing about them.
		if props.SecretName == secretName && !stillVerified {
			if err := r.store.DeleteIdentity(ctx, decoded.ID); err != nil {
				return nil, fmt.Errorf("identityresolver: prune stale identity: %w", err)
			}
			continue
		}
		result = append(result, props)
	}

	return result, nil
}

// allocateSessionContextID picks a uniformly random positive 63-bit int not
// already used in this batch, retrying on collision.
func allocateSessionContextID(allocated map[domain.SessionContextID]bool) (domain.SessionContextID, error) {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		id := domain.SessionContextID(binary.BigEndian.Uint64(buf[:]) & 0x7FFFFFFFFFFFFFFF)
		if id == 0 || allocated[id] {
			continue
		}
		allocated[id] = true
		return id, nil
	}
}
