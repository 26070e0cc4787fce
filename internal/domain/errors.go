package domain

import "errors"

// Shared sentinel errors spanning more than one component. Component-local
// errors that nothing outside the component needs to match on stay defined
// in that component's own package.
var (
	// Setup errors: fail fast, no retry.
	ErrSessionNotInitialized   = errors.New("session context not initialized")
	ErrDatabaseNotInitialized  = errors.New("database not initialized")
	ErrTransportNotInitialized = errors.New("transport not initialized")

	// Persistent-data errors.
	ErrDecryptFailed        = errors.New("decrypt failed")
	ErrEncryptFailed        = errors.New("encrypt failed")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrMissingSessionIdentity = errors.New("missing session identity")
	ErrCommunicationNotFound  = errors.New("communication not found")

	// Cryptographic errors: poison the job that triggered them.
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrAuthenticationFailure   = errors.New("authentication failure")

	// Protocol-ordering: not an error surfaced to the caller, but a
	// sentinel the Ratchet Driver uses internally to trigger stashing.
	ErrInitialMessageNotReceived = errors.New("initial message not received")
)
