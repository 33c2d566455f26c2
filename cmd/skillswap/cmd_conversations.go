package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhamidi/skillswap/messaging"
)

func conversationsCmd(flags *globalFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				ctx := cmd.Context()
				if !watch {
					summaries, err := a.messenger.ListConversations(ctx)
					if err != nil {
						return err
					}
					printConversations(cmd.OutOrStdout(), summaries, time.Now())
					return nil
				}
				return watchConversations(ctx, a, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep the list open and reprint it on every change")
	return cmd
}

func watchConversations(ctx context.Context, a *app, out io.Writer) error {
	if err := a.messenger.WatchConversations(ctx); err != nil {
		return err
	}
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-a.messenger.ListUpdates():
			if !ok {
				return nil
			}
			if snap.Version == last {
				continue
			}
			last = snap.Version
			fmt.Fprintf(out, "\n%d unread\n", snap.TotalUnread())
			printConversations(out, snap.Conversations, time.Now())
			if snap.Err != nil {
				fmt.Fprintf(out, "! %s\n", describe(snap.Err))
			}
		}
	}
}

func printConversations(out io.Writer, summaries []messaging.ConversationSummary, now time.Time) {
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWITH\tLAST MESSAGE\tWHEN\tUNREAD")
	for _, s := range summaries {
		preview, when := "", messaging.FormatRelative(s.UpdatedAt, now)
		if s.LastMessage != nil {
			preview = truncate(s.LastMessage.Content, 40)
			when = messaging.FormatRelative(s.LastMessage.CreatedAt, now)
		}
		unread := ""
		if s.UnreadCount > 0 {
			unread = fmt.Sprint(s.UnreadCount)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, messaging.DisplayName(s.OtherParticipant), preview, when, unread)
	}
	w.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
