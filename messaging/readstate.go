package messaging

import (
	"context"
	"time"

	"github.com/dhamidi/skillswap/store"
)

// unreadFilters selects the messages of conversationID that selfID has not read.
func unreadFilters(conversationID, selfID string) []store.Filter {
	return []store.Filter{
		store.Eq(colConversationID, conversationID),
		store.Neq(colSenderID, selfID),
		store.IsNull(colReadAt),
	}
}

// UnreadCount counts messages in conversationID sent to selfID that are still unread.
func UnreadCount(ctx context.Context, st store.Store, conversationID, selfID string) (int, error) {
	n, err := st.Count(ctx, tableMessages, unreadFilters(conversationID, selfID))
	if err != nil {
		return 0, storeErr("count unread messages", err)
	}
	return int(n), nil
}

// MarkRead sets read_at to at on every unread message sent to selfID in
// conversationID. Calling it again changes nothing.
func MarkRead(ctx context.Context, st store.Store, conversationID, selfID string, at time.Time) (int64, error) {
	n, err := st.Update(ctx, tableMessages, unreadFilters(conversationID, selfID), store.Row{colReadAt: at})
	if err != nil {
		return 0, storeErr("mark messages read", err)
	}
	return n, nil
}

// CountUnread counts the messages in msgs sent to selfID that are still unread.
func CountUnread(msgs []Message, selfID string) int {
	n := 0
	for _, m := range msgs {
		if m.IncomingUnread(selfID) {
			n++
		}
	}
	return n
}
