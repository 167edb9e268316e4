// Package discussion models time-bounded, capacity-limited discussion
// sessions opened from lesson templates.
package discussion

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/id"
)

var (
	// ErrEmptyID indicates a missing discussion ID.
	ErrEmptyID = apperrors.New(apperrors.CodeDiscussionEmptyID, "discussion id is required")
	// ErrEmptyTitle indicates a missing discussion title.
	ErrEmptyTitle = apperrors.New(apperrors.CodeDiscussionEmptyTitle, "discussion title is required")
	// ErrInvalidCapacity indicates a non-positive participant cap.
	ErrInvalidCapacity = apperrors.New(apperrors.CodeDiscussionBadCapacity, "max participants must be greater than zero")
)

// Discussion represents one discussion session.
//
// MaxParticipants of nil means unlimited capacity. Once IsActive is false no
// new admissions or facilitator triggers are permitted; existing connections
// may drain but not reopen.
type Discussion struct {
	ID              string
	Title           string
	LessonID        string
	CreatorUserID   string
	MaxParticipants *int
	IsActive        bool
	ClosedAt        *time.Time
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateDiscussionInput describes the metadata needed to open a discussion.
type CreateDiscussionInput struct {
	Title           string
	LessonID        string
	CreatorUserID   string
	MaxParticipants *int
	ExpiresAt       *time.Time
}

// CreateDiscussion creates a discussion with a generated ID and timestamps.
func CreateDiscussion(input CreateDiscussionInput, now func() time.Time, idGenerator func() (string, error)) (Discussion, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateDiscussionInput(input)
	if err != nil {
		return Discussion{}, err
	}

	discussionID, err := idGenerator()
	if err != nil {
		return Discussion{}, fmt.Errorf("generate discussion id: %w", err)
	}

	createdAt := now().UTC()
	return Discussion{
		ID:              discussionID,
		Title:           normalized.Title,
		LessonID:        normalized.LessonID,
		CreatorUserID:   normalized.CreatorUserID,
		MaxParticipants: normalized.MaxParticipants,
		IsActive:        true,
		ExpiresAt:       normalized.ExpiresAt,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// NormalizeCreateDiscussionInput trims and validates discussion metadata.
func NormalizeCreateDiscussionInput(input CreateDiscussionInput) (CreateDiscussionInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return CreateDiscussionInput{}, ErrEmptyTitle
	}
	input.LessonID = strings.TrimSpace(input.LessonID)
	input.CreatorUserID = strings.TrimSpace(input.CreatorUserID)
	if input.MaxParticipants != nil && *input.MaxParticipants <= 0 {
		return CreateDiscussionInput{}, ErrInvalidCapacity
	}
	return input, nil
}

// Expired reports whether the discussion passed its natural expiry.
func (d Discussion) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.UTC().Before(d.ExpiresAt.UTC())
}

// AdmissionError returns nil when the discussion can accept new admissions,
// or a domain error distinguishing administrative closure from natural
// expiry so callers can message users accordingly.
func (d Discussion) AdmissionError(now time.Time) error {
	if d.IsActive && !d.Expired(now) {
		return nil
	}
	if d.ClosedAt != nil {
		return apperrors.WithMetadata(
			apperrors.CodeDiscussionClosed,
			"discussion was closed by its creator",
			map[string]string{"Reason": "administrative"},
		)
	}
	if d.Expired(now) {
		return apperrors.WithMetadata(
			apperrors.CodeDiscussionExpired,
			"discussion reached its scheduled end",
			map[string]string{"Reason": "expired"},
		)
	}
	return apperrors.New(apperrors.CodeDiscussionInactive, "discussion is not active")
}

// Close transitions the discussion to its administratively closed state.
// Closing an already closed discussion is a no-op.
func (d Discussion) Close(now time.Time) Discussion {
	if !d.IsActive && d.ClosedAt != nil {
		return d
	}
	closedAt := now.UTC()
	d.IsActive = false
	d.ClosedAt = &closedAt
	d.UpdatedAt = closedAt
	return d
}

// Summary is the owner-scrubbed view returned by token validation.
type Summary struct {
	ID              string
	Title           string
	MaxParticipants *int
	ActiveCount     int
}

// Summarize builds a Summary with a live occupancy snapshot. Owner-identifying
// fields are deliberately absent.
func (d Discussion) Summarize(activeCount int) Summary {
	return Summary{
		ID:              d.ID,
		Title:           d.Title,
		MaxParticipants: d.MaxParticipants,
		ActiveCount:     activeCount,
	}
}
