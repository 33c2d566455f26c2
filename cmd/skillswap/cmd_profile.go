package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhamidi/skillswap/messaging"
)

func profileCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or seed member profiles",
	}
	cmd.AddCommand(profileShowCmd(flags), profileSetCmd(flags))
	return cmd
}

func profileShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a profile, by default your own",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				ctx := cmd.Context()
				var id string
				if len(args) == 1 {
					id = args[0]
				} else {
					self, err := a.messenger.Self(ctx)
					if err != nil {
						return err
					}
					id = self
				}
				p, err := messaging.GetProfile(ctx, a.store, id)
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("profile %s: %s", id, describe(messaging.ErrNotFound))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:       %s\n", p.ID)
				fmt.Fprintf(out, "Name:     %s (%s)\n", messaging.DisplayName(p), messaging.Initials(p))
				fmt.Fprintf(out, "Username: %s\n", p.Username)
				if p.AvatarURL != "" {
					fmt.Fprintf(out, "Avatar:   %s\n", p.AvatarURL)
				}
				return nil
			})
		},
	}
}

func profileSetCmd(flags *globalFlags) *cobra.Command {
	var p messaging.Profile
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or replace a profile, by default your own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				ctx := cmd.Context()
				if p.ID == "" {
					self, err := a.messenger.Self(ctx)
					if err != nil {
						return err
					}
					p.ID = self
				}
				if err := messaging.SaveProfile(ctx, a.store, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %s (%s)\n", p.ID, messaging.DisplayName(&p))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.ID, "id", "", "Profile id (defaults to the current identity)")
	f.StringVar(&p.Username, "username", "", "Username")
	f.StringVar(&p.FirstName, "first-name", "", "First name")
	f.StringVar(&p.LastName, "last-name", "", "Last name")
	f.StringVar(&p.AvatarURL, "avatar-url", "", "Avatar URL")
	return cmd
}
