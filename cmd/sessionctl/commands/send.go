package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pqsession/internal/domain"
)

// sendCmd resolves peer's verified devices, then queues an outbound job
// against its current primary device's SessionIdentity.
func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and queue a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer built.Close()
			ctx := cmd.Context()

			peer := domain.SecretName(args[0])
			text := args[1]

			identities, err := built.Resolver.RefreshIdentities(ctx, peer)
			if err != nil {
				return fmt.Errorf("resolving %q's identities: %w", peer, err)
			}
			if len(identities) == 0 {
				return fmt.Errorf("no verified devices found for %q; has it run \"register\"?", peer)
			}
			// A real client would address every sibling device; the demo CLI
			// only ever talks to the first one it sees.
			recipient := identities[0]

			message := domain.CryptoMessage{
				Text:        text,
				SentDate:    time.Now(),
				Recipient:   domain.MessageRecipient{Kind: domain.RecipientPersonalMessage},
				MessageType: domain.MessageKindNormal,
			}
			task := domain.OutboundTaskMessage{
				RecipientIdentityID: recipient.ID,
				Message:             message,
				SharedID:            domain.SharedID(domain.NewUUID().String()),
				LocalID:             domain.NewUUID(),
			}
			job, err := built.Queue.OutboundTask(ctx, task, domain.PriorityStandard)
			if err != nil {
				return fmt.Errorf("queueing outbound message: %w", err)
			}

			fmt.Printf("Queued message %s to %s/%s (job %s)\n", task.LocalID, peer, recipient.DeviceID, job.ID)
			return nil
		},
	}
	return cmd
}
