// Package ratchet implements a post-quantum hybrid Double Ratchet: a
// classical Curve25519 DH ratchet exactly like Signal's design, seeded once
// at session establishment with a root key that also mixes in an ML-KEM-1024
// encapsulation secret.
//
// The KEM leg only runs during SenderInitialization/RecipientInitialization;
// every later Encrypt/Decrypt call advances the classical DH ratchet the
// same way Signal's does. This mirrors how hybrid handshakes are typically
// layered onto an existing ratchet: the post-quantum guarantee lives in the
// root key the ratchet starts from, not in every step after it.
//
// Concurrency: the opaque state blob is not safe for concurrent use; callers
// must serialise access per identity the way the ratchet driver does.
package ratchet
