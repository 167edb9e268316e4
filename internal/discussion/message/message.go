// Package message models discussion messages and their lifecycle rules.
package message

import (
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/discussion/participant"
)

// MaxContentRunes caps message bodies on every write path.
const MaxContentRunes = 4000

var (
	// ErrEmptyContent indicates an empty message body.
	ErrEmptyContent = apperrors.New(apperrors.CodeMessageEmptyContent, "message content is required")
	// ErrContentTooLong indicates the body exceeds MaxContentRunes.
	ErrContentTooLong = apperrors.New(apperrors.CodeMessageEmptyContent, "message content is too long")
	// ErrInvalidType indicates an unknown message type.
	ErrInvalidType = apperrors.New(apperrors.CodeMessageInvalidType, "message type is invalid")
	// ErrImmutable indicates an edit or delete on a protected message type.
	ErrImmutable = apperrors.New(apperrors.CodeMessageImmutable, "message type does not allow modification")
)

// Type classifies a message's origin.
type Type int

const (
	// TypeUnspecified represents an invalid message type.
	TypeUnspecified Type = iota
	// TypeUser is a regular participant message.
	TypeUser
	// TypeModerator is a message sent in a moderation capacity.
	TypeModerator
	// TypeSystem is a runtime-generated announcement. Immutable.
	TypeSystem
	// TypeAIQuestion is a facilitator question.
	TypeAIQuestion
	// TypeAIPrompt is a facilitator discussion prompt.
	TypeAIPrompt
)

// Automated reports whether the type is produced by the facilitator.
func (t Type) Automated() bool {
	return t == TypeAIQuestion || t == TypeAIPrompt
}

// Immutable reports whether edit and delete are forbidden for the type.
// System and facilitator messages are never modified after the fact.
func (t Type) Immutable() bool {
	return t == TypeSystem || t.Automated()
}

// Author identifies who wrote a message. All fields empty means the runtime
// itself (system and facilitator messages).
type Author struct {
	UserID        string
	ParticipantID string
}

// System reports whether the author is the runtime.
func (a Author) System() bool {
	return strings.TrimSpace(a.UserID) == "" && strings.TrimSpace(a.ParticipantID) == ""
}

// Message represents one persisted discussion message.
//
// Seq is the per-discussion ordering key: strictly increasing, never reused,
// identical for history reads and live delivery.
type Message struct {
	ID           string
	DiscussionID string
	Seq          int64
	Author       Author
	Content      string
	Type         Type
	ParentID     string
	EditedAt     *time.Time
	CreatedAt    time.Time
	Reactions    map[string]int
}

// NormalizeContent trims and validates a message body.
func NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return "", ErrContentTooLong
	}
	return content, nil
}

// TypeForRole maps a sender's role to the message type recorded for a plain
// send. Moderators and creators speak with moderator weight.
func TypeForRole(role participant.Role) Type {
	if role == participant.RoleModerator || role == participant.RoleCreator {
		return TypeModerator
	}
	return TypeUser
}

// TypeLabel returns the string label for a message type.
func TypeLabel(t Type) string {
	switch t {
	case TypeUser:
		return "USER"
	case TypeModerator:
		return "MODERATOR"
	case TypeSystem:
		return "SYSTEM"
	case TypeAIQuestion:
		return "AI_QUESTION"
	case TypeAIPrompt:
		return "AI_PROMPT"
	default:
		return "UNSPECIFIED"
	}
}

// TypeFromLabel converts a type label to a Type value.
func TypeFromLabel(label string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "USER":
		return TypeUser, nil
	case "MODERATOR":
		return TypeModerator, nil
	case "SYSTEM":
		return TypeSystem, nil
	case "AI_QUESTION":
		return TypeAIQuestion, nil
	case "AI_PROMPT":
		return TypeAIPrompt, nil
	default:
		return TypeUnspecified, ErrInvalidType
	}
}
