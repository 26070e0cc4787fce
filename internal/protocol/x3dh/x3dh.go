package x3dh

import (
	"fmt"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
)

// InitiatorSessionKey derives the transcript secret for the party opening a
// session (the outbound side of the handshake). ourOneTimePriv is this
// device's own one-time key when the symmetric handshake selected one
// (the most recent local Curve25519 one-time private key); theirOneTimePub
// is the peer's published one-time key
// consumed from the SessionIdentity record.
func InitiatorSessionKey(
	ourLongTermPriv domain.X25519Private,
	ourOneTimePriv *domain.X25519Private,
	theirLongTermPub domain.X25519Public,
	theirOneTimePub *domain.X25519Public,
) ([]byte, error) {
	legs := make([]dhLeg, 0, 3)
	legs = append(legs, dhLeg{ourLongTermPriv, theirLongTermPub, "long-term/long-term"})
	// Transcript order is fixed by role, not by who holds which private
	// half: long-term/long-term, then initiator-long-term/responder-one-time,
	// then initiator-one-time/responder-long-term. Each one-time leg is
	// present iff that side contributed a one-time key, which the responder
	// learns from the message header.
	if theirOneTimePub != nil {
		legs = append(legs, dhLeg{ourLongTermPriv, *theirOneTimePub, "long-term/their-one-time"})
	}
	if ourOneTimePriv != nil {
		legs = append(legs, dhLeg{*ourOneTimePriv, theirLongTermPub, "our-one-time/long-term"})
	}
	return sessionKey(legs)
}

// ResponderSessionKey derives the same transcript secret from the
// recipient side: ourOneTimePriv is the local one-time key the header
// named (if any), theirOneTimePub is the sender's one-time public key
// carried in the message header. The one-time legs are mixed in the
// initiator's transcript order, which from this side means
// our-one-time/their-long-term first; the values agree across the two
// sides because Curve25519 DH(a, G^b) == DH(b, G^a).
func ResponderSessionKey(
	ourLongTermPriv domain.X25519Private,
	ourOneTimePriv *domain.X25519Private,
	theirLongTermPub domain.X25519Public,
	theirOneTimePub *domain.X25519Public,
) ([]byte, error) {
	legs := make([]dhLeg, 0, 3)
	legs = append(legs, dhLeg{ourLongTermPriv, theirLongTermPub, "long-term/long-term"})
	if ourOneTimePriv != nil {
		legs = append(legs, dhLeg{*ourOneTimePriv, theirLongTermPub, "our-one-time/long-term"})
	}
	if theirOneTimePub != nil {
		legs = append(legs, dhLeg{ourLongTermPriv, *theirOneTimePub, "long-term/their-one-time"})
	}
	return sessionKey(legs)
}

type dhLeg struct {
	priv domain.X25519Private
	pub  domain.X25519Public
	name string
}

func sessionKey(legs []dhLeg) ([]byte, error) {
	transcript := make([]byte, 0, 32*len(legs))
	defer func() { crypto.Wipe(transcript) }()
	for _, leg := range legs {
		dh, err := crypto.DH(leg.priv, leg.pub)
		if err != nil {
			return nil, fmt.Errorf("x3dh: dh %s: %w", leg.name, err)
		}
		transcript = append(transcript, dh[:]...)
		crypto.Wipe(dh[:])
	}

	keys, err := crypto.DeriveKeys(transcript, nil, []byte("pqsession|x3dh"), 1)
	if err != nil {
		return nil, fmt.Errorf("x3dh: derive transcript secret: %w", err)
	}
	return keys[0], nil
}
