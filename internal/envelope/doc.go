// Package envelope implements the generic "decrypt -> mutate -> re-encrypt"
// layer every persisted record goes through: records live in the store as
// opaque interfaces.EncryptedBlob and are only ever touched in memory as a
// Decrypted[T].
//
// A decrypt failure is reported as "no props", never a panic: callers treat
// a corrupt or foreign-keyed blob as absent data and move on, the same way
// the job queue's reload drops a job that fails to decrypt instead of
// aborting the reload.
package envelope
