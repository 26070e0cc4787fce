// Package domain is the shared vocabulary of the session engine: every
// data model (internal/domain/types) and every collaborator contract
// (internal/domain/interfaces), re-exported here so the rest of the tree
// imports a single package. It holds no behaviour beyond small methods on
// the types themselves.
package domain
