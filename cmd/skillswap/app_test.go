package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhamidi/skillswap/config"
	"github.com/dhamidi/skillswap/messaging"
	"github.com/dhamidi/skillswap/store"
	"github.com/dhamidi/skillswap/store/sqlitestore"
)

const (
	alice = "00000000-0000-4000-8000-00000000000a"
	bob   = "00000000-0000-4000-8000-00000000000b"
)

// run executes the CLI with args against the database at db.
func run(t *testing.T, db string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	t.Setenv(config.UserEnv, "")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "team.yaml", []byte("identity:\n  user: carol\nlog:\n  level: warn\n"), 0o644))

	cfg, err := loadConfig(fs, &globalFlags{configPath: "team.yaml", dbPath: "/tmp/x.db", logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Identity.User)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)

	cfg, err = loadConfig(fs, &globalFlags{configPath: "team.yaml", user: alice})
	require.NoError(t, err)
	assert.Equal(t, alice, cfg.Identity.User)

	_, err = loadConfig(fs, &globalFlags{configPath: "missing.yaml"})
	assert.Error(t, err, "an explicit config file must exist")

	_, err = loadConfig(fs, &globalFlags{logLevel: "loud"})
	assert.Error(t, err)
}

func TestPrintConversations(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printConversations(&out, nil, now)
	assert.Equal(t, "No conversations yet.\n", out.String())

	out.Reset()
	printConversations(&out, []messaging.ConversationSummary{{
		Conversation:     messaging.Conversation{ID: "c1", UpdatedAt: now.Add(-time.Hour)},
		OtherParticipant: &messaging.Profile{FirstName: "Bob", LastName: "Builder"},
		LastMessage:      &messaging.MessagePreview{Content: "can you  teach\nme Go?", CreatedAt: now.Add(-5 * time.Minute)},
		UnreadCount:      2,
	}, {
		Conversation: messaging.Conversation{ID: "c2", UpdatedAt: now.Add(-2 * time.Hour)},
	}}, now)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "Bob Builder")
	assert.Contains(t, lines[1], "can you teach me Go?")
	assert.Contains(t, lines[1], "5 min ago")
	assert.True(t, strings.HasSuffix(lines[1], "2"))
	assert.Contains(t, lines[2], "Unknown User")
	assert.Contains(t, lines[2], "2 hours ago")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "héllo w...", truncate("héllo wörld again", 10))
}

func TestCommandsEndToEnd(t *testing.T) {
	t.Setenv(config.UserEnv, "")
	db := filepath.Join(t.TempDir(), "skillswap.db")

	_, err := run(t, db, "", "--as", alice, "profile", "set", "--username", "alice", "--first-name", "Alice")
	require.NoError(t, err)
	out, err := run(t, db, "", "--as", bob, "profile", "set", "--username", "bob", "--first-name", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved profile "+bob+" (Bob)")

	out, err = run(t, db, "", "--as", alice, "send", "bob", "hi", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Sent message")

	out, err = run(t, db, "", "--as", bob, "conversations")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "hi Bob")

	st, err := sqlitestore.Open(db)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	convs, err := messaging.LoadConversations(ctx, st, bob, 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)

	out, err = run(t, db, "hello back\n/quit\n", "--as", bob, "chat", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Chatting with alice")

	msgs, err := messaging.LoadMessages(ctx, st, convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello back", msgs[1].Content)
	unread, err := messaging.UnreadCount(ctx, st, convs[0].ID, bob)
	require.NoError(t, err)
	assert.Zero(t, unread, "opening the chat marks it read")

	_, err = run(t, db, "", "--as", alice, "send", "alice", "talking to myself")
	assert.ErrorContains(t, err, "You cannot message yourself")

	_, err = run(t, db, "", "send", "bob", "who am I")
	assert.ErrorContains(t, err, "Please sign in to continue")

	out, err = run(t, db, "", "--as", alice, "delete", convs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted conversation")
	n, err := st.Count(ctx, "messages", []store.Filter{store.Eq("conversation_id", convs[0].ID)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVersion(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "unused.db"), "", "version")
	require.NoError(t, err)
	assert.Equal(t, "skillswap version "+Version+"\n", out)
}
