// Package memstore is an in-memory reference implementation of
// domain.SessionStore, used by tests and by app.StoreBackendMemory. It
// has no durability across process restarts; modernc.org/sqlite-backed
// storage in internal/store/sqlitestore is the durable counterpart.
package memstore
