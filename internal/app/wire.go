package app

import (
	"fmt"
	"net/http"
	"path/filepath"

	"pqsession/internal/communication"
	"pqsession/internal/dispatcher"
	"pqsession/internal/domain"
	"pqsession/internal/executor"
	"pqsession/internal/identityresolver"
	"pqsession/internal/localdelegate"
	"pqsession/internal/protocol/ratchet"
	"pqsession/internal/queue"
	"pqsession/internal/ratchetdriver"
	"pqsession/internal/relayclient"
	"pqsession/internal/store/memstore"
	"pqsession/internal/store/sqlitestore"
	"pqsession/internal/transport/memtransport"
)

// NewApp constructs the full engine dependency graph from cfg: store,
// transport, executor, job queue, identity resolver, ratchet driver,
// dispatcher, and communication bookkeeper, wired together exactly as
// cmd/sessionctl's commands expect to find them.
func NewApp(cfg Config) (*App, error) {
	if cfg.Me.SecretName == "" {
		return nil, fmt.Errorf("app: Config.Me.SecretName is required")
	}
	if len(cfg.DatabaseKey) == 0 {
		return nil, fmt.Errorf("app: Config.DatabaseKey is required")
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	transport := newTransport(cfg)

	exec := executor.New()
	ratchetManager := ratchet.New()
	resolver := identityresolver.New(store, transport, cfg.DatabaseKey, cfg.Me)
	delegate := localdelegate.New(store, cfg.DatabaseKey, cfg.Me, nil)
	comms := communication.New(store, cfg.DatabaseKey, delegate)
	dispatch := dispatcher.New(store, cfg.DatabaseKey, comms, delegate, delegate, cfg.Me)
	driver := ratchetdriver.New(store, transport, cfg.DatabaseKey, ratchetManager, resolver, dispatch, delegate, cfg.Me)
	processor := queue.New(store, transport, cfg.DatabaseKey, exec, driver, nil)

	return &App{
		Store:       store,
		Transport:   transport,
		DatabaseKey: cfg.DatabaseKey,
		Me:          cfg.Me,
		Executor:    exec,
		Queue:       processor,
		Resolver:    resolver,
		Driver:      driver,
		Dispatcher:  dispatch,
		Comms:       comms,
		Delegate:    delegate,
	}, nil
}

func newStore(cfg Config) (domain.SessionStore, error) {
	switch cfg.Store {
	case StoreBackendSQLite:
		path := cfg.DBPath
		if path == "" {
			path = filepath.Join(cfg.HomeDir, "session.db")
		}
		store, err := sqlitestore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("app: open sqlite store: %w", err)
		}
		return store, nil
	default:
		return memstore.New(), nil
	}
}

func newTransport(cfg Config) domain.SessionTransport {
	switch cfg.Transport {
	case TransportBackendRelay:
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		return relayclient.New(cfg.RelayURL, httpClient)
	default:
		network := cfg.Network
		if network == nil {
			network = memtransport.NewNetwork()
		}
		return memtransport.New(network)
	}
}
