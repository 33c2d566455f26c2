package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func deleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation and all of its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				if err := a.messenger.DeleteConversation(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete %s: %s", args[0], describe(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
				return nil
			})
		},
	}
}
