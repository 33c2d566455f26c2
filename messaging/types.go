package messaging

import (
	"time"

	"github.com/dhamidi/skillswap/store"
)

// Tables and columns the messaging core reads and writes.
const (
	tableProfiles      = "profiles"
	tableConversations = "conversations"
	tableMessages      = "messages"

	colID             = "id"
	colParticipantA   = "participant_a"
	colParticipantB   = "participant_b"
	colCreatedAt      = "created_at"
	colUpdatedAt      = "updated_at"
	colConversationID = "conversation_id"
	colSenderID       = "sender_id"
	colContent        = "content"
	colReadAt         = "read_at"
	colUsername       = "username"
	colFirstName      = "first_name"
	colLastName       = "last_name"
	colAvatarURL      = "avatar_url"
)

// Conversation is a channel between exactly two identities.
// ParticipantA always sorts before ParticipantB.
type Conversation struct {
	ID           string
	ParticipantA string
	ParticipantB string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether id is one of the two participants.
func (c Conversation) HasParticipant(id string) bool {
	return id != "" && (c.ParticipantA == id || c.ParticipantB == id)
}

// Other returns the participant that is not self.
func (c Conversation) Other(self string) string {
	if c.ParticipantA == self {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Message is one authored entry in a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	ReadAt         *time.Time
}

// IncomingUnread reports whether m was sent to self and has not been read.
func (m Message) IncomingUnread(self string) bool {
	return m.SenderID != self && m.ReadAt == nil
}

// Profile is the display information of an identity.
type Profile struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	AvatarURL string
}

// MessagePreview is the latest message shown in a conversation list.
type MessagePreview struct {
	Content   string
	CreatedAt time.Time
}

// ConversationSummary is a conversation as seen by one participant.
// OtherParticipant is nil when the other identity has no profile.
type ConversationSummary struct {
	Conversation
	OtherParticipantID string
	OtherParticipant   *Profile
	LastMessage        *MessagePreview
	UnreadCount        int
}

func conversationFromRow(r store.Row) Conversation {
	return Conversation{
		ID:           r.String(colID),
		ParticipantA: r.String(colParticipantA),
		ParticipantB: r.String(colParticipantB),
		CreatedAt:    r.Time(colCreatedAt),
		UpdatedAt:    r.Time(colUpdatedAt),
	}
}

func messageFromRow(r store.Row) Message {
	return Message{
		ID:             r.String(colID),
		ConversationID: r.String(colConversationID),
		SenderID:       r.String(colSenderID),
		Content:        r.String(colContent),
		CreatedAt:      r.Time(colCreatedAt),
		ReadAt:         r.NullTime(colReadAt),
	}
}

func profileFromRow(r store.Row) Profile {
	return Profile{
		ID:        r.String(colID),
		Username:  r.String(colUsername),
		FirstName: r.String(colFirstName),
		LastName:  r.String(colLastName),
		AvatarURL: r.String(colAvatarURL),
	}
}
