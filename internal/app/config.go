package app

import (
	"net/http"

	"pqsession/internal/domain"
	"pqsession/internal/transport/memtransport"
)

// StoreBackend selects which domain.SessionStore implementation NewApp
// builds.
type StoreBackend int

const (
	// StoreBackendMemory uses internal/store/memstore, an in-process store
	// with no persistence; useful for tests and for in-process wiring
	// against an in-memory transport.
	StoreBackendMemory StoreBackend = iota
	// StoreBackendSQLite uses internal/store/sqlitestore, persisting to the
	// database file at Config.DBPath.
	StoreBackendSQLite
)

// TransportBackend selects which domain.SessionTransport implementation
// NewApp builds.
type TransportBackend int

const (
	// TransportBackendMemory uses internal/transport/memtransport, a shared
	// in-process Network; RelayURL is ignored.
	TransportBackendMemory TransportBackend = iota
	// TransportBackendRelay uses internal/relayclient against RelayURL.
	TransportBackendRelay
)

// Config holds runtime wiring options for building the app.
type Config struct {
	// HomeDir is the device's config directory, e.g. $HOME/.sessionctl.
	HomeDir string
	// DBPath is the sqlite database file path; only used when Store is
	// StoreBackendSQLite. Defaults to HomeDir/session.db when empty.
	DBPath string
	// RelayURL is the relay base URL, e.g. http://127.0.0.1:8080; only
	// used when Transport is TransportBackendRelay.
	RelayURL string
	// HTTPClient is used by the relay transport; defaults to
	// http.DefaultClient when nil.
	HTTPClient *http.Client

	Store     StoreBackend
	Transport TransportBackend

	// Me identifies this device; required.
	Me domain.SessionUser
	// DatabaseKey is the 32-byte AEAD key every persisted record is
	// encrypted under (internal/crypto.DeriveDatabaseKey from a
	// passphrase); required.
	DatabaseKey []byte

	// Network, when Transport is TransportBackendMemory, is the shared
	// memtransport.Network other local devices in the same process also
	// attach to. A fresh network is created when nil.
	Network *memtransport.Network
}
