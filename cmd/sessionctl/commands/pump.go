package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pqsession/internal/domain"
	"pqsession/internal/relayclient"
)

// pumpCmd drains this device's relay inbox into the job queue: for every
// queued envelope it recovers the sender from the envelope's (unencrypted)
// TransportInfo, feeds an InboundTaskMessage, and only then acks the relay
// so a crash mid-drain re-delivers rather than silently drops a message.
func pumpCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pump",
		Short: "Fetch queued messages from the relay and feed them to the job queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer built.Close()
			ctx := cmd.Context()

			relay, ok := built.Transport.(*relayclient.Client)
			if !ok {
				return fmt.Errorf("pump requires a relay transport; pass --relay")
			}

			entries, err := relay.FetchInbox(ctx, built.Me.SecretName, built.Me.DeviceID, limit)
			if err != nil {
				return fmt.Errorf("fetching inbox: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No queued messages.")
				return nil
			}

			for _, entry := range entries {
				senderSecretName, senderDeviceID, ok := built.Delegate.RetrieveUserInfo(entry.Metadata.TransportInfo)
				if !ok {
					fmt.Println("Skipping message with unrecognised sender transport info")
					continue
				}
				task := domain.InboundTaskMessage{
					Message:          entry.Message,
					SenderSecretName: senderSecretName,
					SenderDeviceID:   senderDeviceID,
					SharedMessageID:  entry.Metadata.SharedMessageID,
				}
				if _, err := built.Queue.InboundTask(ctx, task); err != nil {
					return fmt.Errorf("queueing inbound message from %s: %w", senderSecretName, err)
				}
			}

			if err := relay.AckInbox(ctx, built.Me.SecretName, built.Me.DeviceID, len(entries)); err != nil {
				return fmt.Errorf("acking inbox: %w", err)
			}

			fmt.Printf("Fed %d message(s) into the job queue.\n", len(entries))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of messages to fetch (0 = no limit)")
	return cmd
}
