// Package participant provides discussion participant management.
package participant

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/id"
)

var (
	// ErrEmptyDisplayName indicates a missing display name.
	ErrEmptyDisplayName = apperrors.New(apperrors.CodeParticipantEmptyDisplayName, "display name is required")
	// ErrEmptyIdentity indicates neither a user ID nor a session ID was given.
	ErrEmptyIdentity = apperrors.New(apperrors.CodeParticipantEmptyIdentity, "participant identity is required")
	// ErrInvalidRole indicates an unknown participant role.
	ErrInvalidRole = apperrors.New(apperrors.CodeParticipantInvalidRole, "participant role is invalid")
)

// Role represents a participant's authority within a discussion.
type Role int

const (
	// RoleUnspecified represents an invalid role.
	RoleUnspecified Role = iota
	// RoleParticipant is a regular discussion member.
	RoleParticipant
	// RoleModerator may remove participants and trigger facilitator prompts.
	RoleModerator
	// RoleCreator owns the discussion.
	RoleCreator
)

// Identity names a participant either by authenticated user ID or by
// anonymous session ID. Exactly one side is set.
type Identity struct {
	UserID    string
	SessionID string
}

// Anonymous reports whether the identity is session-based.
func (i Identity) Anonymous() bool {
	return strings.TrimSpace(i.UserID) == ""
}

// Key returns a stable map key for the identity.
func (i Identity) Key() string {
	if !i.Anonymous() {
		return "user:" + strings.TrimSpace(i.UserID)
	}
	return "session:" + strings.TrimSpace(i.SessionID)
}

// Normalize trims identity fields and validates that one side is set.
func (i Identity) Normalize() (Identity, error) {
	i.UserID = strings.TrimSpace(i.UserID)
	i.SessionID = strings.TrimSpace(i.SessionID)
	if i.UserID == "" && i.SessionID == "" {
		return Identity{}, ErrEmptyIdentity
	}
	return i, nil
}

// Participant represents one admitted discussion member.
//
// A non-nil LeftAt excludes the record from capacity counting. Rejoining with
// the same anonymous session identity creates a fresh active record; the old
// record is superseded, not deleted, so message attribution survives.
type Participant struct {
	ID           string
	DiscussionID string
	Identity     Identity
	DisplayName  string
	Role         Role
	JoinedAt     time.Time
	LeftAt       *time.Time
	LastSeenAt   time.Time
	MessageCount int
}

// Active reports whether the participant currently occupies a capacity slot.
func (p Participant) Active() bool {
	return p.LeftAt == nil
}

// CreateParticipantInput describes an admission candidate.
type CreateParticipantInput struct {
	DiscussionID string
	Identity     Identity
	DisplayName  string
	Role         Role
}

// CreateParticipant creates a participant with a generated ID and timestamps.
func CreateParticipant(input CreateParticipantInput, now func() time.Time, idGenerator func() (string, error)) (Participant, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateParticipantInput(input)
	if err != nil {
		return Participant{}, err
	}

	participantID, err := idGenerator()
	if err != nil {
		return Participant{}, fmt.Errorf("generate participant id: %w", err)
	}

	joinedAt := now().UTC()
	return Participant{
		ID:           participantID,
		DiscussionID: normalized.DiscussionID,
		Identity:     normalized.Identity,
		DisplayName:  normalized.DisplayName,
		Role:         normalized.Role,
		JoinedAt:     joinedAt,
		LastSeenAt:   joinedAt,
	}, nil
}

// NormalizeCreateParticipantInput trims and validates admission input.
func NormalizeCreateParticipantInput(input CreateParticipantInput) (CreateParticipantInput, error) {
	input.DiscussionID = strings.TrimSpace(input.DiscussionID)
	if input.DiscussionID == "" {
		return CreateParticipantInput{}, apperrors.New(apperrors.CodeDiscussionEmptyID, "discussion id is required")
	}
	identity, err := input.Identity.Normalize()
	if err != nil {
		return CreateParticipantInput{}, err
	}
	input.Identity = identity
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.DisplayName == "" {
		return CreateParticipantInput{}, ErrEmptyDisplayName
	}
	if input.Role == RoleUnspecified {
		input.Role = RoleParticipant
	}
	if input.Role != RoleParticipant && input.Role != RoleModerator && input.Role != RoleCreator {
		return CreateParticipantInput{}, ErrInvalidRole
	}
	return input, nil
}

// CanRemove reports whether caller may remove target.
//
// Creators remove moderators and participants; moderators remove only
// participants. Creator self-removal is rejected everywhere: the creator
// closes the discussion instead.
func CanRemove(caller Role, target Role) bool {
	switch caller {
	case RoleCreator:
		return target == RoleModerator || target == RoleParticipant
	case RoleModerator:
		return target == RoleParticipant
	default:
		return false
	}
}

// RoleLabel returns the string label for a role.
func RoleLabel(role Role) string {
	switch role {
	case RoleParticipant:
		return "PARTICIPANT"
	case RoleModerator:
		return "MODERATOR"
	case RoleCreator:
		return "CREATOR"
	default:
		return "UNSPECIFIED"
	}
}

// RoleFromLabel converts a role label to a Role value.
func RoleFromLabel(label string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PARTICIPANT":
		return RoleParticipant, nil
	case "MODERATOR":
		return RoleModerator, nil
	case "CREATOR":
		return RoleCreator, nil
	default:
		return RoleUnspecified, ErrInvalidRole
	}
}
