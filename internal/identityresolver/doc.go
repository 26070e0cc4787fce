// Package identityresolver implements refreshIdentities:
// discover verified devices from a peer's signed user configuration, create
// a local SessionIdentity for any device not already known, and prune
// identities for devices that have dropped out of the verified list.
package identityresolver
