// Package relayclient implements domain.SessionTransport
// against cmd/sessionrelay's HTTP API. It is the "real" counterpart to
// internal/transport/memtransport, used by cmd/sessionctl so the demo CLI
// has a transport that actually crosses a process boundary.
//
// Bodies are BSON-encoded (go.mongodb.org/mongo-driver/v2/bson), matching
// the wire codec used for the signed envelope itself; a
// bounded semaphore caps how many of these HTTP calls may be in flight at
// once so a burst of outbound jobs draining off the Serialized Executor
// cannot open unbounded concurrent connections to the relay.
package relayclient
