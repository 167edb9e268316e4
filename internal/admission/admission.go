// Package admission controls who enters a discussion and enforces its
// capacity under concurrency.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/seminarhq/seminar/internal/bus"
	"github.com/seminarhq/seminar/internal/discussion"
	"github.com/seminarhq/seminar/internal/discussion/message"
	"github.com/seminarhq/seminar/internal/discussion/participant"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/i18n"
	"github.com/seminarhq/seminar/internal/platform/id"
	"github.com/seminarhq/seminar/internal/storage"
	"github.com/seminarhq/seminar/internal/token"
)

// DefaultRecentMessages is how much history a fresh admission receives.
const DefaultRecentMessages = 50

// Store is the persistence surface the admission controller needs.
type Store interface {
	GetDiscussion(ctx context.Context, id string) (discussion.Discussion, error)
	PutDiscussion(ctx context.Context, d discussion.Discussion) error
	AdmitParticipant(ctx context.Context, p participant.Participant, maxParticipants *int) error
	GetParticipant(ctx context.Context, id string) (participant.Participant, error)
	UpdateParticipant(ctx context.Context, p participant.Participant) error
	ListRecentMessages(ctx context.Context, discussionID string, limit int) ([]message.Message, error)
}

// Controller admits, removes and re-ranks discussion participants.
type Controller struct {
	store  Store
	tokens *token.Service
	bus    *bus.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	recentMessages int
	now            func() time.Time
	idGenerator    func() (string, error)
}

// New creates an admission controller.
func New(store Store, tokens *token.Service, b *bus.Bus) *Controller {
	return &Controller{
		store:          store,
		tokens:         tokens,
		bus:            b,
		locks:          make(map[string]*sync.Mutex),
		recentMessages: DefaultRecentMessages,
		now:            time.Now,
		idGenerator:    id.NewID,
	}
}

// lock returns the mutex serializing admissions for one discussion.
func (c *Controller) lock(discussionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[discussionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[discussionID] = l
	}
	return l
}

// JoinInput describes one admission attempt.
type JoinInput struct {
	Token       string
	Identity    participant.Identity
	DisplayName string
	Locale      string
}

// JoinResult is a successful admission.
type JoinResult struct {
	Participant participant.Participant
	Discussion  discussion.Summary
	// Recent history, ascending, so the client renders context immediately.
	Messages []message.Message
}

// Join validates the invitation token, checks the discussion state and
// admits the caller if a capacity slot is free. The capacity check and the
// membership insert are atomic; when several candidates race for the last
// slot exactly one wins and the rest get an at-capacity error.
func (c *Controller) Join(ctx context.Context, input JoinInput) (JoinResult, error) {
	if c == nil || c.store == nil || c.tokens == nil {
		return JoinResult{}, errors.New("admission controller is not configured")
	}
	ctx, span := otel.Tracer("seminar/admission").Start(ctx, "admission.join")
	defer span.End()

	validation, err := c.tokens.Validate(ctx, input.Token)
	if err != nil {
		return JoinResult{}, err
	}

	d, err := c.loadDiscussion(ctx, validation.DiscussionID)
	if err != nil {
		return JoinResult{}, err
	}
	now := c.now().UTC()
	if err := d.AdmissionError(now); err != nil {
		return JoinResult{}, err
	}

	role := participant.RoleParticipant
	if !input.Identity.Anonymous() && input.Identity.UserID == d.CreatorUserID {
		role = participant.RoleCreator
	}
	candidate, err := participant.CreateParticipant(participant.CreateParticipantInput{
		DiscussionID: d.ID,
		Identity:     input.Identity,
		DisplayName:  input.DisplayName,
		Role:         role,
	}, c.now, c.idGenerator)
	if err != nil {
		return JoinResult{}, err
	}

	// Serialize the count-then-admit section per discussion so in-process
	// racers queue instead of contending on the database write lock.
	l := c.lock(d.ID)
	l.Lock()
	err = c.store.AdmitParticipant(ctx, candidate, d.MaxParticipants)
	l.Unlock()
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAtCapacity):
			return JoinResult{}, apperrors.WithMetadata(
				apperrors.CodeAtCapacity,
				"discussion is at capacity",
				map[string]string{"DiscussionID": d.ID},
			)
		case errors.Is(err, storage.ErrDiscussionInactive):
			// The discussion closed between the state check and the insert.
			if reloaded, loadErr := c.loadDiscussion(ctx, d.ID); loadErr == nil {
				if admissionErr := reloaded.AdmissionError(now); admissionErr != nil {
					return JoinResult{}, admissionErr
				}
			}
			return JoinResult{}, apperrors.New(apperrors.CodeDiscussionInactive, "discussion is not active")
		case errors.Is(err, storage.ErrNotFound):
			return JoinResult{}, apperrors.New(apperrors.CodeNotFound, "discussion does not exist")
		default:
			return JoinResult{}, fmt.Errorf("admit participant: %w", err)
		}
	}

	if err := c.tokens.Accept(ctx, input.Token); err != nil {
		log.Printf("admission: settle token for %s: %v", d.ID, err)
	}

	c.announceJoin(ctx, d, candidate, input.Locale)

	recent, err := c.store.ListRecentMessages(ctx, d.ID, c.recentMessages)
	if err != nil {
		return JoinResult{}, fmt.Errorf("list recent messages: %w", err)
	}

	summary := validation.Discussion
	summary.ActiveCount++
	return JoinResult{Participant: candidate, Discussion: summary, Messages: recent}, nil
}

// Leave marks a participant as gone. Leaving twice is a no-op, and authored
// messages are never touched.
func (c *Controller) Leave(ctx context.Context, participantID string) error {
	if c == nil || c.store == nil {
		return errors.New("admission controller is not configured")
	}

	p, err := c.loadParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if !p.Active() {
		return nil
	}

	leftAt := c.now().UTC()
	p.LeftAt = &leftAt
	if err := c.store.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("mark participant left: %w", err)
	}

	c.announceLeave(ctx, p, "")
	return nil
}

// UpdateRole changes a participant's role. Creator only; the creator's own
// role is fixed.
func (c *Controller) UpdateRole(ctx context.Context, callerParticipantID string, targetParticipantID string, role participant.Role) error {
	if c == nil || c.store == nil {
		return errors.New("admission controller is not configured")
	}
	if role != participant.RoleParticipant && role != participant.RoleModerator {
		return participant.ErrInvalidRole
	}

	caller, err := c.loadParticipant(ctx, callerParticipantID)
	if err != nil {
		return err
	}
	target, err := c.loadParticipant(ctx, targetParticipantID)
	if err != nil {
		return err
	}
	if caller.DiscussionID != target.DiscussionID {
		return apperrors.New(apperrors.CodeNotFound, "participant does not exist")
	}
	if caller.Role != participant.RoleCreator {
		return apperrors.New(apperrors.CodePermissionDenied, "only the discussion creator may change roles")
	}
	if target.Role == participant.RoleCreator {
		return apperrors.New(apperrors.CodePreconditionFailed, "the creator role cannot be reassigned")
	}

	target.Role = role
	if err := c.store.UpdateParticipant(ctx, target); err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// Remove expels a target participant. Creators remove moderators and
// participants, moderators only participants. The creator cannot be removed,
// including by themselves: closing the discussion is the way out.
func (c *Controller) Remove(ctx context.Context, callerParticipantID string, targetParticipantID string, reason string) error {
	if c == nil || c.store == nil {
		return errors.New("admission controller is not configured")
	}

	caller, err := c.loadParticipant(ctx, callerParticipantID)
	if err != nil {
		return err
	}
	target, err := c.loadParticipant(ctx, targetParticipantID)
	if err != nil {
		return err
	}
	if caller.DiscussionID != target.DiscussionID {
		return apperrors.New(apperrors.CodeNotFound, "participant does not exist")
	}
	if target.Role == participant.RoleCreator {
		return apperrors.New(apperrors.CodePreconditionFailed, "the creator cannot be removed; close the discussion instead")
	}
	if !participant.CanRemove(caller.Role, target.Role) {
		return apperrors.New(apperrors.CodePermissionDenied, "caller may not remove this participant")
	}
	if !target.Active() {
		return nil
	}

	leftAt := c.now().UTC()
	target.LeftAt = &leftAt
	if err := c.store.UpdateParticipant(ctx, target); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}

	c.announceLeave(ctx, target, strings.TrimSpace(reason))
	return nil
}

// Close deactivates a discussion. Creator only; closing twice is a no-op.
func (c *Controller) Close(ctx context.Context, discussionID string, callerUserID string) error {
	if c == nil || c.store == nil {
		return errors.New("admission controller is not configured")
	}

	d, err := c.loadDiscussion(ctx, discussionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(callerUserID) == "" || callerUserID != d.CreatorUserID {
		return apperrors.New(apperrors.CodePermissionDenied, "only the discussion creator may close it")
	}
	if !d.IsActive && d.ClosedAt != nil {
		return nil
	}

	if err := c.store.PutDiscussion(ctx, d.Close(c.now().UTC())); err != nil {
		return fmt.Errorf("close discussion: %w", err)
	}
	return nil
}

// announceJoin pushes the localized join announcement and presence event.
// Announcements are best effort; a failure never rolls back the admission.
func (c *Controller) announceJoin(ctx context.Context, d discussion.Discussion, p participant.Participant, preferredLocale string) {
	if c.bus == nil {
		return
	}
	locale := i18n.Match(preferredLocale)
	if _, err := c.bus.Append(ctx, bus.AppendInput{
		DiscussionID: d.ID,
		Content:      i18n.JoinAnnouncement(locale, p.DisplayName, d.Title),
		Type:         message.TypeSystem,
	}); err != nil {
		log.Printf("admission: join announcement for %s: %v", d.ID, err)
	}
	c.bus.Broadcast(d.ID, bus.EventUserJoined, bus.PresencePayload{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Role:          participant.RoleLabel(p.Role),
	})
}

func (c *Controller) announceLeave(ctx context.Context, p participant.Participant, reason string) {
	if c.bus == nil {
		return
	}
	content := i18n.LeaveAnnouncement(i18n.LocaleEnUS, p.DisplayName)
	if reason != "" {
		content = content + " (" + reason + ")"
	}
	if _, err := c.bus.Append(ctx, bus.AppendInput{
		DiscussionID: p.DiscussionID,
		Content:      content,
		Type:         message.TypeSystem,
	}); err != nil {
		log.Printf("admission: leave announcement for %s: %v", p.DiscussionID, err)
	}
	c.bus.Broadcast(p.DiscussionID, bus.EventUserLeft, bus.PresencePayload{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Role:          participant.RoleLabel(p.Role),
	})
}

func (c *Controller) loadDiscussion(ctx context.Context, discussionID string) (discussion.Discussion, error) {
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return discussion.Discussion{}, discussion.ErrEmptyID
	}
	d, err := c.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return discussion.Discussion{}, apperrors.New(apperrors.CodeNotFound, "discussion does not exist")
		}
		return discussion.Discussion{}, fmt.Errorf("load discussion: %w", err)
	}
	return d, nil
}

func (c *Controller) loadParticipant(ctx context.Context, participantID string) (participant.Participant, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return participant.Participant{}, apperrors.New(apperrors.CodeNotFound, "participant id is required")
	}
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return participant.Participant{}, apperrors.New(apperrors.CodeNotFound, "participant does not exist")
		}
		return participant.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	return p, nil
}
