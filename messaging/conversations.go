package messaging

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dhamidi/skillswap/store"
)

// participantFilter selects conversations where selfID is either participant.
func participantFilter(selfID string) store.Filter {
	return store.AnyOf(store.Eq(colParticipantA, selfID), store.Eq(colParticipantB, selfID))
}

// LoadConversations returns the conversations selfID participates in, most
// recently updated first, each enriched with the other participant's profile,
// the latest message and the unread count. Enrichment runs with up to fanout
// lookups in flight; the result is returned only when every summary is complete.
func LoadConversations(ctx context.Context, st store.Store, selfID string, fanout int) ([]ConversationSummary, error) {
	if selfID == "" {
		return nil, ErrUnauthenticated
	}
	rows, err := st.Select(ctx, store.Query{
		Table:   tableConversations,
		Filters: []store.Filter{participantFilter(selfID)},
		Order:   []store.OrderBy{store.Desc(colUpdatedAt), store.Asc(colID)},
	})
	if err != nil {
		return nil, storeErr("load conversations", err)
	}

	summaries := make([]ConversationSummary, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	if fanout > 0 {
		g.SetLimit(fanout)
	}
	for i, row := range rows {
		conv := conversationFromRow(row)
		g.Go(func() error {
			s, err := summarize(gctx, st, conv, selfID)
			if err != nil {
				return err
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func summarize(ctx context.Context, st store.Store, conv Conversation, selfID string) (ConversationSummary, error) {
	s := ConversationSummary{
		Conversation:       conv,
		OtherParticipantID: conv.Other(selfID),
	}

	profile, err := GetProfile(ctx, st, s.OtherParticipantID)
	if err != nil {
		return s, err
	}
	s.OtherParticipant = profile

	last, err := st.Select(ctx, store.Query{
		Table:   tableMessages,
		Filters: []store.Filter{store.Eq(colConversationID, conv.ID)},
		Order:   []store.OrderBy{store.Desc(colCreatedAt), store.Desc(colID)},
		Limit:   1,
	})
	if err != nil {
		return s, storeErr("load last message", err)
	}
	if len(last) == 1 {
		m := messageFromRow(last[0])
		s.LastMessage = &MessagePreview{Content: m.Content, CreatedAt: m.CreatedAt}
	}

	s.UnreadCount, err = UnreadCount(ctx, st, conv.ID, selfID)
	if err != nil {
		return s, err
	}
	return s, nil
}

// GetConversation loads a conversation by id.
func GetConversation(ctx context.Context, st store.Store, conversationID string) (Conversation, error) {
	rows, err := st.Select(ctx, store.Query{
		Table:   tableConversations,
		Filters: []store.Filter{store.Eq(colID, conversationID)},
		Limit:   1,
	})
	if err != nil {
		return Conversation{}, storeErr("load conversation", err)
	}
	if len(rows) == 0 {
		return Conversation{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return conversationFromRow(rows[0]), nil
}

// LoadMessages returns all messages of a conversation, oldest first.
func LoadMessages(ctx context.Context, st store.Store, conversationID string) ([]Message, error) {
	rows, err := st.Select(ctx, store.Query{
		Table:   tableMessages,
		Filters: []store.Filter{store.Eq(colConversationID, conversationID)},
		Order:   []store.OrderBy{store.Asc(colCreatedAt), store.Asc(colID)},
	})
	if err != nil {
		return nil, storeErr("load messages", err)
	}
	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, messageFromRow(r))
	}
	return SortMessages(msgs), nil
}

// DeleteConversation deletes a conversation and, by cascade, its messages.
// Only a participant may delete it.
func DeleteConversation(ctx context.Context, st store.Store, conversationID, selfID string) error {
	if selfID == "" {
		return ErrUnauthenticated
	}
	conv, err := GetConversation(ctx, st, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(selfID) {
		return fmt.Errorf("delete conversation %s: %w", conversationID, ErrUnauthorized)
	}
	n, err := st.Delete(ctx, tableConversations, []store.Filter{store.Eq(colID, conversationID)})
	if err != nil {
		return storeErr("delete conversation", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// GetProfile returns the profile of id, or nil if the identity has none.
func GetProfile(ctx context.Context, st store.Store, id string) (*Profile, error) {
	rows, err := st.Select(ctx, store.Query{
		Table:   tableProfiles,
		Filters: []store.Filter{store.Eq(colID, id)},
		Limit:   1,
	})
	if err != nil {
		return nil, storeErr("load profile", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := profileFromRow(rows[0])
	return &p, nil
}

// FindProfileByUsername looks up an account by username without side effects.
// It returns ErrNotFound when no such account exists.
func FindProfileByUsername(ctx context.Context, st store.Store, username string) (Profile, error) {
	rows, err := st.Select(ctx, store.Query{
		Table:   tableProfiles,
		Filters: []store.Filter{store.Eq(colUsername, username)},
		Limit:   1,
	})
	if err != nil {
		return Profile{}, storeErr("find profile", err)
	}
	if len(rows) == 0 {
		return Profile{}, fmt.Errorf("profile %q: %w", username, ErrNotFound)
	}
	return profileFromRow(rows[0]), nil
}

// SaveProfile creates or replaces the profile p.ID. Empty fields are stored
// as NULL, so several profiles may leave the username unset.
func SaveProfile(ctx context.Context, st store.Store, p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("save profile: %w", ErrInvalidParticipant)
	}
	fields := store.Row{
		colUsername:  nullable(p.Username),
		colFirstName: nullable(p.FirstName),
		colLastName:  nullable(p.LastName),
		colAvatarURL: nullable(p.AvatarURL),
	}
	n, err := st.Update(ctx, tableProfiles, []store.Filter{store.Eq(colID, p.ID)}, fields)
	if err != nil {
		return storeErr("update profile", err)
	}
	if n > 0 {
		return nil
	}
	fields[colID] = p.ID
	if _, err := st.Insert(ctx, tableProfiles, fields); err != nil {
		return storeErr("create profile", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
