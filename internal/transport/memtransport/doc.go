// Package memtransport is an in-memory reference implementation of
// domain.SessionTransport, used by tests and local demos. Two instances
// sharing the same *Network simulate two devices talking over a relay.
package memtransport
