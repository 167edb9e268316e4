package bus

import (
	"time"

	"github.com/seminarhq/seminar/internal/discussion/message"
)

// Server event types carried on the real-time channel.
const (
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventTyping         = "typing"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventAIThinking     = "ai_thinking"
	EventKeepalive      = "keepalive"
)

// MessagePayload is the wire view of a message.
type MessagePayload struct {
	ID            string         `json:"id"`
	DiscussionID  string         `json:"discussionId"`
	Seq           int64          `json:"seq"`
	AuthorUserID  string         `json:"authorUserId,omitempty"`
	ParticipantID string         `json:"participantId,omitempty"`
	Content       string         `json:"content"`
	Type          string         `json:"type"`
	ParentID      string         `json:"parentId,omitempty"`
	EditedAt      *time.Time     `json:"editedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	Reactions     map[string]int `json:"reactions,omitempty"`
}

// DeletedPayload is the tombstone carried by message_deleted events.
type DeletedPayload struct {
	ID string `json:"id"`
}

// TypingPayload is the ephemeral typing indicator.
type TypingPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	Typing      bool   `json:"typing"`
}

// PresencePayload is carried by user_joined and user_left events.
type PresencePayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
}

// ThinkingPayload is carried by ai_thinking events.
type ThinkingPayload struct {
	Thinking bool   `json:"thinking"`
	Label    string `json:"label,omitempty"`
}

func payloadFor(m message.Message) MessagePayload {
	return MessagePayload{
		ID:            m.ID,
		DiscussionID:  m.DiscussionID,
		Seq:           m.Seq,
		AuthorUserID:  m.Author.UserID,
		ParticipantID: m.Author.ParticipantID,
		Content:       m.Content,
		Type:          message.TypeLabel(m.Type),
		ParentID:      m.ParentID,
		EditedAt:      m.EditedAt,
		CreatedAt:     m.CreatedAt,
		Reactions:     m.Reactions,
	}
}
