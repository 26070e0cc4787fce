package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pqsession/internal/app"
	"pqsession/internal/domain"
	"pqsession/internal/envelope"
	"pqsession/internal/friendship"
)

// friendCmd groups the Friendship State Machine's action methods as
// subcommands. Each updates this device's local Contact record for peer and
// queues an outbound friendshipStateRequest control message carrying the
// full, updated FriendshipMetadata triple, for the peer's dispatcher to
// switchStates() against its own view.
func friendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friend",
		Short: "Drive this device's friendship state with a peer",
	}
	cmd.AddCommand(
		friendActionCmd("request", "Send a friend request", friendship.SendFriendRequest),
		friendActionCmd("accept", "Accept a pending friend request", friendship.AcceptFriendRequest),
		friendActionCmd("reject", "Reject a pending friend request", friendship.RejectFriendRequest),
		friendActionCmd("revoke", "Revoke an outgoing friend request", friendship.RevokeFriendRequest),
		friendActionCmd("block", "Block a peer", friendship.BlockFriend),
		friendActionCmd("unblock", "Unblock a previously blocked peer", friendship.UnBlockFriend),
	)
	return cmd
}

func friendActionCmd(use, short string, action func(domain.FriendshipMetadata) domain.FriendshipMetadata) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <peer>",
		Short: short,
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
				return fmt.Errorf("no verified devices found for %q; has it run \"register\"?", peer)
			}
			// A real client would address every sibling device; the demo
			// CLI only ever talks to the first one it sees, same as send.
			recipient := identities[0]

			contact, err := loadOrCreateContact(ctx, built, peer)
			if err != nil {
				return err
			}
			updated := action(contact.Props.Friendship)

			blob, decoded, err := envelope.UpdateProps(contact, built.DatabaseKey, func(c *domain.Contact) {
				c.Friendship = updated
			})
			if err != nil {
				return fmt.Errorf("updating local friendship state: %w", err)
			}
			if err := built.Store.UpdateContact(ctx, blob); err != nil {
				return fmt.Errorf("persisting local friendship state: %w", err)
			}

			message := domain.CryptoMessage{
				SentDate:    time.Now(),
				Recipient:   domain.MessageRecipient{Kind: domain.RecipientPersonalMessage},
				MessageType: domain.MessageKindFriendshipStateRequest,
				Metadata:    friendship.EncodeMetadata(decoded.Props.Friendship),
			}
			task := domain.OutboundTaskMessage{
				RecipientIdentityID: recipient.ID,
				Message:             message,
				SharedID:            domain.SharedID(domain.NewUUID().String()),
				LocalID:             domain.NewUUID(),
			}
			if _, err := built.Queue.OutboundTask(ctx, task, domain.PriorityStandard); err != nil {
				return fmt.Errorf("queueing friendship state request: %w", err)
			}

			fmt.Printf("%s -> %s: my=%s their=%s our=%s\n", use, peer, updated.MyState, updated.TheirState, updated.OurState)
			return nil
		},
	}
}

// loadOrCreateContact mirrors the find-or-create helpers in the dispatcher
// and local delegate, scoped to this package since the CLI touches Contact
// records directly rather than through the Dispatcher.
func loadOrCreateContact(ctx context.Context, built *app.App, name domain.SecretName) (envelope.Decrypted[domain.Contact], error) {
	blobs, err := built.Store.FetchAllContacts(ctx)
	if err != nil {
		return envelope.Decrypted[domain.Contact]{}, fmt.Errorf("fetching contacts: %w", err)
	}
	for _, blob := range blobs {
		decoded, err := envelope.Open[domain.Contact](blob, built.DatabaseKey)
		if err != nil || decoded.Props == nil {
			continue
		}
		if decoded.Props.SecretName == name {
			return decoded, nil
		}
	}

	contact := domain.Contact{ID: domain.NewUUID(), SecretName: name}
	blob, decoded, err := envelope.MakeDecryptedModelWithID(contact.ID, contact, built.DatabaseKey)
	if err != nil {
		return envelope.Decrypted[domain.Contact]{}, fmt.Errorf("encrypting new contact: %w", err)
	}
	if err := built.Store.CreateContact(ctx, blob); err != nil {
		return envelope.Decrypted[domain.Contact]{}, fmt.Errorf("persisting new contact: %w", err)
	}
	return decoded, nil
}
