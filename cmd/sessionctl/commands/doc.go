// Package commands implements cmd/sessionctl's cobra subcommands: init
// bootstraps a device, register publishes its configuration and one-time
// keys to a relay, send queues an outbound message, pump drains a relay
// inbox into the job queue, identities refreshes a peer's verified
// devices, and friend drives the friendship state machine against a peer.
// Package-level flags are shared via PersistentPreRunE, one file per
// subcommand.
package commands
