package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"

	"pqsession/internal/crypto"
	"pqsession/internal/domain"
	"pqsession/internal/domain/interfaces"
	"pqsession/internal/envelope"
)

// oneTimeKeyBatch is how many one-time keys of each kind registerCmd mints
// and publishes per run.
const oneTimeKeyBatch = 10

// registerCmd tops up this device's one-time key inventory, then signs and
// publishes a fresh UserConfiguration naming it as the sole verified device
// for this secretName.
func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish one-time keys and a signed user configuration to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer built.Close()
			ctx := cmd.Context()

			blob, ok, err := built.Store.FetchSessionContext(ctx)
			if err != nil {
				return fmt.Errorf("fetching session context: %w", err)
			}
			if !ok {
				return domain.ErrSessionNotInitialized
			}
			decoded, err := envelope.Open[domain.SessionContext](blob, built.DatabaseKey)
			if err != nil || decoded.Props == nil {
				return fmt.Errorf("decoding session context: %w", err)
			}
			sessionContext := *decoded.Props

			curvePairs, curvePublic, err := generateOneTimeKeys(oneTimeKeyBatch)
			if err != nil {
				return err
			}
			kyberPairs, kyberPublic, err := generateKyberOneTimeKeys(oneTimeKeyBatch)
			if err != nil {
				return err
			}

			signingPriv := sessionContext.DeviceKeys.PrivateSigningKey
			signedCurve := make([]domain.SignedOneTimeKeyPublic, len(curvePublic))
			rawSignedCurve := make([][]byte, len(curvePublic))
			for i, pub := range curvePublic {
				signed := domain.SignedOneTimeKeyPublic{
					OneTimeKeyPublic: pub,
					Signature:        crypto.SignEd25519(signingPriv, pub.Key.Slice()),
				}
				signedCurve[i] = signed
				raw, err := bson.Marshal(signed)
				if err != nil {
					return err
				}
				rawSignedCurve[i] = raw
			}
			signedKyber := make([]domain.SignedKyberOneTimeKeyPublic, len(kyberPublic))
			rawSignedKyber := make([][]byte, len(kyberPublic))
			for i, pub := range kyberPublic {
				signed := domain.SignedKyberOneTimeKeyPublic{
					KyberOneTimeKeyPublic: pub,
					Signature:             crypto.SignEd25519(signingPriv, pub.Key),
				}
				signedKyber[i] = signed
				raw, err := bson.Marshal(signed)
				if err != nil {
					return err
				}
				rawSignedKyber[i] = raw
			}

			updatedBlob, _, err := envelope.UpdateProps(decoded, built.DatabaseKey, func(sc *domain.SessionContext) {
				sc.DeviceKeys.PrivateOneTimeKeys = append(sc.DeviceKeys.PrivateOneTimeKeys, curvePairs...)
				sc.DeviceKeys.PrivateKyberOneTimeKeys = append(sc.DeviceKeys.PrivateKyberOneTimeKeys, kyberPairs...)
			})
			if err != nil {
				return fmt.Errorf("re-encrypting session context: %w", err)
			}
			if err := built.Store.UpdateSessionContext(ctx, updatedBlob); err != nil {
				return fmt.Errorf("persisting session context: %w", err)
			}

			longTermPub, err := crypto.PublicFromX25519Private(sessionContext.DeviceKeys.PrivateLongTermKey)
			if err != nil {
				return fmt.Errorf("deriving long-term public key: %w", err)
			}
			signingPub := crypto.PublicFromEd25519Private(signingPriv)
			finalKyberPub, err := crypto.PublicFromKyberPrivate(sessionContext.DeviceKeys.FinalKyberPrivateKey)
			if err != nil {
				return fmt.Errorf("deriving final kyber public key: %w", err)
			}

			configuration := domain.UserConfiguration{
				SecretName:             built.Me.SecretName,
				SigningPublicKey:       signingPub,
				LongTermPublicKey:      longTermPub,
				SignedOneTimeKeys:      signedCurve,
				SignedKyberOneTimeKeys: signedKyber,
				FinalKyberPublicKey:    finalKyberPub,
				VerifiedDevices: []domain.VerifiedDevice{{
					DeviceID:   built.Me.DeviceID,
					DeviceName: deviceName,
					IsMaster:   true,
				}},
			}
			configuration.ConfigurationSignature = crypto.SignEd25519(signingPriv, configuration.SignedPayload())

			if err := built.Transport.PublishUserConfiguration(ctx, configuration, built.Me.DeviceID); err != nil {
				return fmt.Errorf("publishing user configuration: %w", err)
			}
			if err := built.Transport.UpdateOneTimeKeys(ctx, built.Me.SecretName, built.Me.DeviceID, interfaces.KeysTypeCurve, rawSignedCurve); err != nil {
				return fmt.Errorf("publishing one-time keys: %w", err)
			}
			if err := built.Transport.UpdateOneTimeKeys(ctx, built.Me.SecretName, built.Me.DeviceID, interfaces.KeysTypeKyber, rawSignedKyber); err != nil {
				return fmt.Errorf("publishing kyber one-time keys: %w", err)
			}

			fmt.Printf("Published configuration and %d+%d one-time keys for %s/%s\n",
				len(signedCurve), len(signedKyber), built.Me.SecretName, built.Me.DeviceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceName, "device-name", "primary", "human-readable name for this device, as published in the configuration")
	return cmd
}

func generateOneTimeKeys(n int) ([]domain.OneTimeKeyPair, []domain.OneTimeKeyPublic, error) {
	pairs := make([]domain.OneTimeKeyPair, n)
	public := make([]domain.OneTimeKeyPublic, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, nil, fmt.Errorf("generating one-time key: %w", err)
		}
		id := domain.NewUUID()
		pairs[i] = domain.OneTimeKeyPair{ID: id, Scalar: priv}
		public[i] = domain.OneTimeKeyPublic{ID: id, Key: pub}
	}
	return pairs, public, nil
}

func generateKyberOneTimeKeys(n int) ([]domain.KyberOneTimeKeyPair, []domain.KyberOneTimeKeyPublic, error) {
	pairs := make([]domain.KyberOneTimeKeyPair, n)
	public := make([]domain.KyberOneTimeKeyPublic, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateKyber1024()
		if err != nil {
			return nil, nil, fmt.Errorf("generating kyber one-time key: %w", err)
		}
		id := domain.NewUUID()
		pairs[i] = domain.KyberOneTimeKeyPair{ID: id, Secret: priv}
		public[i] = domain.KyberOneTimeKeyPublic{ID: id, Key: pub}
	}
	return pairs, public, nil
}
