package messaging

import "sort"

// SortMessages orders messages by creation time, breaking ties by id.
// It sorts in place and returns msgs.
func SortMessages(msgs []Message) []Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return msgs
}

// ApplyIncoming merges incoming into local by id and returns a new, sorted
// list. For an id present in both, the incoming copy wins. Neither argument is modified.
func ApplyIncoming(local, incoming []Message) []Message {
	merged := make([]Message, 0, len(local)+len(incoming))
	index := make(map[string]int, len(local)+len(incoming))
	for _, m := range local {
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range incoming {
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	return SortMessages(merged)
}

// ReplaceAll returns a sorted copy of snapshot, dropping duplicate ids.
func ReplaceAll(snapshot []Message) []Message {
	return ApplyIncoming(nil, snapshot)
}

func containsID(msgs []Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
