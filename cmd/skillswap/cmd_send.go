package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhamidi/skillswap/messaging"
)

func sendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <username|conversation-id> <message>...",
		Short: "Send one message without opening the conversation",
		Long: `send delivers a single message. Given a username, the conversation with
that member is created on first use. Unlike chat, send does not mark
anything as read.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				msg, err := a.send(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return errors.New(describe(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s to conversation %s\n", msg.ID, msg.ConversationID)
				return nil
			})
		},
	}
}

func (a *app) send(ctx context.Context, target, content string) (messaging.Message, error) {
	self, err := a.messenger.Self(ctx)
	if err != nil {
		return messaging.Message{}, err
	}
	dest := messaging.ToConversation(target)
	p, err := messaging.FindProfileByUsername(ctx, a.store, target)
	switch {
	case err == nil:
		dest = messaging.PendingWith(p.ID)
	case !errors.Is(err, messaging.ErrNotFound):
		return messaging.Message{}, err
	}
	composer := messaging.NewComposer(a.store, a.messenger.Directory(), a.opts)
	return composer.Send(ctx, dest, self, content)
}
