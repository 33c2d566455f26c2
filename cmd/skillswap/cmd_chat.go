package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

func chatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <username|conversation-id>",
		Short: "Open a conversation and chat interactively",
		Long: `chat opens the conversation with the given member, or the conversation
with the given id, prints its messages and keeps them in sync. Every line
read from standard input is sent as a message.

Commands: /refresh reloads the thread, /quit leaves.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app) error {
				return runChat(cmd.Context(), a, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

// syncWriter serializes writes from the input loop and the thread printer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func runChat(ctx context.Context, a *app, target string, in io.Reader, w io.Writer) error {
	out := &syncWriter{w: w}
	if _, err := a.openTarget(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(out, "Chatting with %s. Type a message and press Enter, /quit to leave.\n", target)

	done := make(chan struct{})
	var printer sync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		printThread(ctx, a, out, done)
	}()
	defer func() {
		close(done)
		printer.Wait()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/refresh":
				if t := a.messenger.Current(); t != nil {
					if err := t.Refresh(ctx); err != nil {
						fmt.Fprintf(out, "! %s\n", describe(err))
					}
				}
				continue
			}
			if _, err := a.messenger.Send(ctx, line); err != nil {
				fmt.Fprintf(out, "! %s\n", describe(err))
			}
		}
	}
}

// printThread prints every message the open thread learns about, once.
func printThread(ctx context.Context, a *app, out io.Writer, done <-chan struct{}) {
	seen := make(map[string]bool)
	var lastErr string
	for {
		select {
		case <-done:
			return
		case snap, ok := <-a.messenger.ThreadUpdates():
			if !ok {
				return
			}
			for _, m := range snap.Messages {
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), a.displayName(ctx, m.SenderID), m.Content)
			}
			msg := ""
			if snap.Err != nil {
				msg = describe(snap.Err)
			}
			if msg != "" && msg != lastErr {
				fmt.Fprintf(out, "! %s\n", msg)
			}
			lastErr = msg
		}
	}
}
