// Package x3dh derives the initial transcript secret the ratchet's hybrid
// root key is seeded from.
//
// # Overview
//
// The transcript mixes up to three Curve25519 DH values, in a fixed
// initiator-relative order:
//   - initiator long-term identity key with responder long-term identity key
//   - initiator long-term identity key with responder one-time key, when
//     the responder had one published
//   - initiator one-time key with responder long-term identity key, when
//     the initiator mixed one in
//
// The post-quantum KEM leg is layered on separately by the ratchet package
// during SenderInitialization/RecipientInitialization; this package only
// produces the classical transcript secret that feeds in alongside it.
//
// # Security notes
//
// Only public material crosses the wire. A one-time key, when consumed,
// is removed from the recipient's key set so it contributes forward
// secrecy exactly once.
package x3dh
