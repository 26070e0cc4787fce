// Package app wires the engine's collaborators into a runnable instance for
// cmd/sessionctl: the store, the transport, the Serialized Executor, the
// Job Queue, the Identity Resolver, the Ratchet Driver, the Dispatcher, and
// the Communication Bookkeeper. A Config struct describes the backends to
// use; NewApp builds the whole dependency graph in one place so commands
// never construct collaborators themselves.
package app
