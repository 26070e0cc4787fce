package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pqsession/internal/domain"
)

// identitiesCmd refreshes and prints the verified devices this instance
// currently knows about for a peer, discovering new siblings and pruning
// stale ones against the peer's latest published configuration.
func identitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities <peer>",
		Short: "Refresh and list a peer's verified devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer built.Close()
			ctx := cmd.Context()

			peer := domain.SecretName(args[0])
			identities, err := built.Resolver.RefreshIdentities(ctx, peer)
			if err != nil {
				return fmt.Errorf("resolving %q's identities: %w", peer, err)
			}
			if len(identities) == 0 {
				fmt.Printf("No verified devices found for %q\n", peer)
				return nil
			}

			for _, identity := range identities {
				master := ""
				if identity.IsMasterDevice {
					master = " (master)"
				}
				ratchet := "no session yet"
				if identity.Initialized() {
					ratchet = "session established"
				}
				fmt.Printf("%s  %s%s  %s\n", identity.DeviceID, identity.DeviceName, master, ratchet)
			}
			return nil
		},
	}
	return cmd
}
