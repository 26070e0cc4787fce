package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pqsession/internal/app"
	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/store"
	"pqsession/internal/store/sqlitestore"
)

// These flags are shared across all commands.
var (
	homeDir    string
	passphrase string
	relayURL   string
	deviceName string
)

// profileStore resolves and persists the small unencrypted bookkeeping record
// every home directory keeps; see internal/store.DeviceProfile.
func profileStore() *store.ProfileStore {
	return store.NewProfileStore(homeDir)
}

// Execute builds the root cobra command and runs it.
func Execute() error {
	// Best-effort: a .env.local file in the working directory is convenient
	// for local development but never required.
	_ = godotenv.Load(".env.local")

	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Demo CLI over the post-quantum session engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if homeDir == "" {
				if h, err := os.UserHomeDir(); err == nil {
					homeDir = filepath.Join(h, ".sessionctl")
				}
			}
			if err := os.MkdirAll(homeDir, 0o700); err != nil {
				return fmt.Errorf("creating home directory: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&homeDir, "home", "", "config directory (default: $HOME/.sessionctl)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local database")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay URL, e.g. http://127.0.0.1:8080")

	root.AddCommand(
		initCmd(),
		registerCmd(),
		sendCmd(),
		pumpCmd(),
		identitiesCmd(),
		friendCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	return root.Execute()
}

// newHTTPClient builds the *http.Client handed to the relay client, with
// sane dial/keep-alive timeouts for a local relay.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
		},
	}
}

// loadApp reopens the device profile an earlier "init" created and wires a
// running *app.App against it: a sqlite-backed store and, when --relay (or
// the profile's saved relay URL) is set, a relay-backed transport.
func loadApp(cmd *cobra.Command) (*app.App, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required (-p)")
	}

	profile, ok, err := profileStore().Load()
	if err != nil {
		return nil, fmt.Errorf("loading device profile: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no device found under %s; run \"sessionctl init\" first", homeDir)
	}

	deviceID, err := uuid.Parse(profile.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("device profile: bad device id: %w", err)
	}

	dbPath := profile.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(homeDir, "session.db")
	}
	tmpStore, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	salt, ok, err := tmpStore.FetchDeviceSalt(cmd.Context())
	if err != nil {
		_ = tmpStore.Close()
		return nil, fmt.Errorf("loading device salt: %w", err)
	}
	if err := tmpStore.Close(); err != nil {
		return nil, fmt.Errorf("closing database: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("device profile at %s has no salt; run \"sessionctl init\" again", dbPath)
	}
	databaseKey := crypto.DeriveDatabaseKey(passphrase, salt)

	cfg := app.Config{
		HomeDir:     homeDir,
		DBPath:      dbPath,
		Store:       app.StoreBackendSQLite,
		Me:          domain.SessionUser{SecretName: domain.SecretName(profile.SecretName), DeviceID: deviceID},
		DatabaseKey: databaseKey,
	}

	effectiveRelay := relayURL
	if effectiveRelay == "" {
		effectiveRelay = profile.RelayURL
	}
	if effectiveRelay != "" {
		cfg.Transport = app.TransportBackendRelay
		cfg.RelayURL = effectiveRelay
		cfg.HTTPClient = newHTTPClient()
	}

	built, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("wiring application: %w", err)
	}
	if err := built.Start(cmd.Context()); err != nil {
		return nil, fmt.Errorf("starting application: %w", err)
	}
	return built, nil
}
