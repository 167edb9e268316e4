// Package storage defines persistence contracts for discussion runtime state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/seminarhq/seminar/internal/discussion"
	"github.com/seminarhq/seminar/internal/discussion/message"
	"github.com/seminarhq/seminar/internal/discussion/participant"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAtCapacity indicates an admission lost the race for the last open slot.
var ErrAtCapacity = errors.New("discussion is at capacity")

// ErrDiscussionInactive indicates a write against a closed or expired
// discussion was rejected inside the transaction that would have applied it.
var ErrDiscussionInactive = errors.New("discussion is not active")

// Invitation token ledger statuses.
const (
	TokenStatusPending   = "PENDING"
	TokenStatusAccepted  = "ACCEPTED"
	TokenStatusExpired   = "EXPIRED"
	TokenStatusCancelled = "CANCELLED"
)

// InvitationToken stores one ledger-backed invitation token row. Signed
// tokens are never persisted; only the ledger kind has rows here.
type InvitationToken struct {
	Token          string
	DiscussionID   string
	Status         string
	SenderID       string
	RecipientEmail string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DiscussionStore persists discussion session records.
type DiscussionStore interface {
	PutDiscussion(ctx context.Context, d discussion.Discussion) error
	GetDiscussion(ctx context.Context, id string) (discussion.Discussion, error)
	ListActiveDiscussions(ctx context.Context) ([]discussion.Discussion, error)
}

// ParticipantStore persists discussion membership records.
//
// AdmitParticipant is the single admission write path: in one transaction it
// supersedes any prior active record for the same identity, counts remaining
// active occupants, enforces maxParticipants strictly, and inserts the new
// record. It returns ErrAtCapacity when the count check fails and
// ErrDiscussionInactive when the discussion row is no longer active.
type ParticipantStore interface {
	AdmitParticipant(ctx context.Context, p participant.Participant, maxParticipants *int) error
	GetParticipant(ctx context.Context, id string) (participant.Participant, error)
	FindActiveParticipant(ctx context.Context, discussionID string, identity participant.Identity) (participant.Participant, error)
	ListActiveParticipants(ctx context.Context, discussionID string) ([]participant.Participant, error)
	CountActiveParticipants(ctx context.Context, discussionID string) (int, error)
	UpdateParticipant(ctx context.Context, p participant.Participant) error
	AdjustMessageCount(ctx context.Context, participantID string, delta int) error
}

// TokenStore persists the invitation token ledger.
type TokenStore interface {
	PutToken(ctx context.Context, t InvitationToken) error
	GetToken(ctx context.Context, token string) (InvitationToken, error)
	ListTokens(ctx context.Context, discussionID string) ([]InvitationToken, error)
	// TransitionTokenStatus atomically moves a token from one status to
	// another. It reports false without error when the token exists but is
	// not in the expected from status.
	TransitionTokenStatus(ctx context.Context, token string, from string, to string, updatedAt time.Time) (bool, error)
}

// MessageStore persists ordered discussion messages and reaction counters.
//
// AppendMessage assigns the per-discussion sequence number inside the same
// transaction as the insert so sequence values are strictly increasing and
// never reused, and rejects appends to inactive discussions with
// ErrDiscussionInactive before any row is written.
type MessageStore interface {
	AppendMessage(ctx context.Context, m message.Message) (message.Message, error)
	GetMessage(ctx context.Context, id string) (message.Message, error)
	UpdateMessageContent(ctx context.Context, id string, content string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, id string, deletedAt time.Time) error
	// ListMessages returns up to limit messages with seq strictly below
	// beforeSeq in ascending seq order; beforeSeq <= 0 means newest page.
	// The bool result reports whether older messages remain.
	ListMessages(ctx context.Context, discussionID string, beforeSeq int64, limit int) ([]message.Message, bool, error)
	ListRecentMessages(ctx context.Context, discussionID string, limit int) ([]message.Message, error)
	// ListAutomatedSince returns creation times of facilitator-authored
	// messages at or after since, oldest first. Facilitator throttling
	// counts these.
	ListAutomatedSince(ctx context.Context, discussionID string, since time.Time) ([]time.Time, error)
	// LastHumanMessageAt returns the creation time of the newest
	// non-automated message, or ErrNotFound when the discussion has none.
	LastHumanMessageAt(ctx context.Context, discussionID string) (time.Time, error)
	// AdjustReaction applies delta to the aggregate counter for kind and
	// returns the resulting count, floored at zero.
	AdjustReaction(ctx context.Context, messageID string, kind string, delta int) (int, error)
}

// Store aggregates every persistence contract the runtime needs.
type Store interface {
	DiscussionStore
	ParticipantStore
	TokenStore
	MessageStore
}
