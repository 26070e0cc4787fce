package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/store"
	"pqsession/internal/store/sqlitestore"
)

// initCmd generates a fresh device identity (X25519 + Ed25519 + ML-KEM-1024
// long-term keys), derives the database key from --passphrase and a new
// random salt, and persists both the encrypted SessionContext and the
// small unencrypted device profile init writes under --home.
func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <secretName>",
		Short: "Create a new local device identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			secretNameValue := args[0]

			longTermPriv, longTermPub, err := crypto.GenerateX25519()
			if err != nil {
				return fmt.Errorf("generating long-term key: %w", err)
			}
			signingPriv, signingPub, err := crypto.GenerateEd25519()
			if err != nil {
				return fmt.Errorf("generating signing key: %w", err)
			}
			kyberPriv, _, err := crypto.GenerateKyber1024()
			if err != nil {
				return fmt.Errorf("generating final kyber key: %w", err)
			}

			deviceID := domain.NewUUID()
			sessionContext := domain.SessionContext{
				SessionUser: domain.SessionUser{
					SecretName: domain.SecretName(secretNameValue),
					DeviceID:   deviceID,
				},
				DeviceKeys: domain.DeviceKeys{
					PrivateLongTermKey:   longTermPriv,
					PrivateSigningKey:    signingPriv,
					FinalKyberPrivateKey: kyberPriv,
				},
			}

			salt, err := crypto.NewDeviceSalt()
			if err != nil {
				return fmt.Errorf("generating device salt: %w", err)
			}
			databaseKey := crypto.DeriveDatabaseKey(passphrase, salt)

			dbPath := filepath.Join(homeDir, "session.db")
			sessionStore, err := sqlitestore.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer sessionStore.Close()

			if err := sessionStore.StoreDeviceSalt(cmd.Context(), salt); err != nil {
				return fmt.Errorf("storing device salt: %w", err)
			}
			blob, _, err := envelope.MakeDecryptedModel(sessionContext, databaseKey)
			if err != nil {
				return fmt.Errorf("encrypting session context: %w", err)
			}
			if err := sessionStore.CreateSessionContext(cmd.Context(), blob); err != nil {
				return fmt.Errorf("persisting session context: %w", err)
			}

			profile := store.DeviceProfile{
				SecretName: secretNameValue,
				DeviceID:   deviceID.String(),
				DBPath:     dbPath,
				RelayURL:   relayURL,
			}
			if err := profileStore().Save(profile); err != nil {
				return fmt.Errorf("saving device profile: %w", err)
			}

			fmt.Printf("Device created: %s/%s\n", secretNameValue, deviceID)
			fmt.Printf("Long-term key fingerprint: %s\n", crypto.Fingerprint(longTermPub.Slice()))
			fmt.Printf("Signing key fingerprint:   %s\n", crypto.Fingerprint(signingPub.Slice()))
			return nil
		},
	}
	return cmd
}
