// Package sqlitestore implements domain.SessionStore on top
// of database/sql and the pure-Go modernc.org/sqlite driver, a single
// queryable database so the demo CLI (cmd/sessionctl) has a real
// persistent backend to run against.
//
// Every table stores the record's encrypted blob (nonce + ciphertext)
// verbatim; the plaintext index columns called out on
// domain/interfaces.SessionStore (communication id, shared id, recipient
// id, sync id) are stored alongside so lookups never need to decrypt a row
// they are not going to return.
package sqlitestore
