// Package facilitator decides when the automated participant should speak
// and injects its prompts through the bus.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/seminarhq/seminar/internal/ai"
	"github.com/seminarhq/seminar/internal/bus"
	"github.com/seminarhq/seminar/internal/discussion"
	"github.com/seminarhq/seminar/internal/discussion/message"
	"github.com/seminarhq/seminar/internal/discussion/participant"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/i18n"
	"github.com/seminarhq/seminar/internal/registry"
	"github.com/seminarhq/seminar/internal/storage"
)

// Defaults applied by Config.withDefaults when a field is zero.
const (
	DefaultInactivityThreshold = 5 * time.Minute
	DefaultMaxPromptsPerWindow = 3
	DefaultWindow              = 15 * time.Minute
	DefaultContextMessages     = 20
	DefaultSweepInterval       = time.Minute
)

// Config tunes when and how often the facilitator speaks.
type Config struct {
	Enabled             bool
	InactivityThreshold time.Duration
	MaxPromptsPerWindow int
	Window              time.Duration
	ContextMessages     int
	SweepInterval       time.Duration
}

func (c Config) withDefaults() Config {
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = DefaultInactivityThreshold
	}
	if c.MaxPromptsPerWindow <= 0 {
		c.MaxPromptsPerWindow = DefaultMaxPromptsPerWindow
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.ContextMessages <= 0 {
		c.ContextMessages = DefaultContextMessages
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Store is the persistence surface the scheduler needs.
type Store interface {
	GetDiscussion(ctx context.Context, id string) (discussion.Discussion, error)
	ListActiveDiscussions(ctx context.Context) ([]discussion.Discussion, error)
	GetParticipant(ctx context.Context, id string) (participant.Participant, error)
	ListActiveParticipants(ctx context.Context, discussionID string) ([]participant.Participant, error)
	ListRecentMessages(ctx context.Context, discussionID string, limit int) ([]message.Message, error)
	ListAutomatedSince(ctx context.Context, discussionID string, since time.Time) ([]time.Time, error)
	LastHumanMessageAt(ctx context.Context, discussionID string) (time.Time, error)
}

// Status reports a discussion's position against the throttle window.
type Status struct {
	CanTriggerMore     bool
	PromptsInWindow    int
	NextAllowedTrigger *time.Time
	LastHumanActivity  *time.Time
}

// Scheduler owns the trigger condition, the throttle and the generation
// round trip. One scheduler serves every discussion.
type Scheduler struct {
	store     Store
	bus       *bus.Bus
	registry  *registry.Registry
	generator ai.Generator
	config    Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// New creates a scheduler. Zero config fields fall back to package defaults.
func New(store Store, b *bus.Bus, reg *registry.Registry, generator ai.Generator, config Config) *Scheduler {
	return &Scheduler{
		store:     store,
		bus:       b,
		registry:  reg,
		generator: generator,
		config:    config.withDefaults(),
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// lock returns the per-discussion mutex guarding the throttle decision.
func (s *Scheduler) lock(discussionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[discussionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[discussionID] = l
	}
	return l
}

// Run drives the periodic inactivity sweep until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.store == nil {
		return errors.New("facilitator scheduler is not configured")
	}
	if !s.config.Enabled {
		log.Printf("facilitator: disabled, sweeper not started")
		return nil
	}

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep enumerates active discussions and prompts the stalled ones. Errors
// are logged per discussion so one bad row never stops the sweep.
func (s *Scheduler) sweep(ctx context.Context) {
	discussions, err := s.store.ListActiveDiscussions(ctx)
	if err != nil {
		log.Printf("facilitator: list active discussions: %v", err)
		return
	}

	now := s.now().UTC()
	for _, d := range discussions {
		if err := ctx.Err(); err != nil {
			return
		}
		if d.Expired(now) {
			continue
		}
		if s.registry == nil || s.registry.CountActive(d.ID) == 0 {
			continue
		}

		last, err := s.store.LastHumanMessageAt(ctx, d.ID)
		if errors.Is(err, storage.ErrNotFound) {
			last = d.CreatedAt
		} else if err != nil {
			log.Printf("facilitator: last activity for %s: %v", d.ID, err)
			continue
		}
		if now.Sub(last) < s.config.InactivityThreshold {
			continue
		}

		if _, err := s.execute(ctx, d); err != nil {
			if apperrors.IsCode(err, apperrors.CodeThrottled) {
				continue
			}
			log.Printf("facilitator: prompt for %s: %v", d.ID, err)
		}
	}
}

// Trigger is the manual path: a creator or moderator forces a prompt without
// waiting for the inactivity threshold. The throttle still applies.
func (s *Scheduler) Trigger(ctx context.Context, discussionID string, callerParticipantID string) (message.Message, error) {
	if s == nil || s.store == nil {
		return message.Message{}, errors.New("facilitator scheduler is not configured")
	}
	if !s.config.Enabled {
		return message.Message{}, apperrors.New(apperrors.CodeDisabled, "facilitator is disabled")
	}

	caller, err := s.loadParticipant(ctx, callerParticipantID)
	if err != nil {
		return message.Message{}, err
	}
	if caller.DiscussionID != discussionID || !caller.Active() {
		return message.Message{}, apperrors.New(apperrors.CodeNotFound, "participant does not exist")
	}
	if caller.Role != participant.RoleCreator && caller.Role != participant.RoleModerator {
		return message.Message{}, apperrors.New(apperrors.CodePermissionDenied, "only creators and moderators may trigger the facilitator")
	}

	d, err := s.loadDiscussion(ctx, discussionID)
	if err != nil {
		return message.Message{}, err
	}
	if !d.IsActive || d.Expired(s.now().UTC()) {
		return message.Message{}, apperrors.New(apperrors.CodePreconditionFailed, "discussion is not active")
	}

	return s.execute(ctx, d)
}

// Status reports throttle occupancy and the last human activity for a
// discussion. It never mutates state.
func (s *Scheduler) Status(ctx context.Context, discussionID string) (Status, error) {
	if s == nil || s.store == nil {
		return Status{}, errors.New("facilitator scheduler is not configured")
	}
	if _, err := s.loadDiscussion(ctx, discussionID); err != nil {
		return Status{}, err
	}

	now := s.now().UTC()
	stamps, err := s.store.ListAutomatedSince(ctx, discussionID, now.Add(-s.config.Window))
	if err != nil {
		return Status{}, fmt.Errorf("list automated messages: %w", err)
	}

	status := Status{
		CanTriggerMore:  s.config.Enabled && len(stamps) < s.config.MaxPromptsPerWindow,
		PromptsInWindow: len(stamps),
	}
	if len(stamps) >= s.config.MaxPromptsPerWindow {
		next := stamps[0].Add(s.config.Window)
		status.NextAllowedTrigger = &next
	}

	last, err := s.store.LastHumanMessageAt(ctx, discussionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return Status{}, fmt.Errorf("last human activity: %w", err)
	default:
		status.LastHumanActivity = &last
	}
	return status, nil
}

// execute runs one generation round trip: throttle check, thinking
// indicator, a single backend attempt, append on success. The indicator is
// cleared on every path out, including cancellation mid-call.
func (s *Scheduler) execute(ctx context.Context, d discussion.Discussion) (message.Message, error) {
	ctx, span := otel.Tracer("seminar/facilitator").Start(ctx, "facilitator.prompt")
	defer span.End()

	l := s.lock(d.ID)
	l.Lock()
	defer l.Unlock()

	now := s.now().UTC()
	stamps, err := s.store.ListAutomatedSince(ctx, d.ID, now.Add(-s.config.Window))
	if err != nil {
		return message.Message{}, fmt.Errorf("list automated messages: %w", err)
	}
	if len(stamps) >= s.config.MaxPromptsPerWindow {
		next := stamps[0].Add(s.config.Window)
		return message.Message{}, apperrors.WithMetadata(
			apperrors.CodeThrottled,
			"facilitator prompt budget exhausted",
			map[string]string{"NextAllowedTrigger": next.UTC().Format(time.RFC3339)},
		)
	}

	if s.bus != nil {
		label := i18n.FacilitatorLabel(i18n.LocaleEnUS)
		s.bus.Broadcast(d.ID, bus.EventAIThinking, bus.ThinkingPayload{Thinking: true, Label: label})
		defer s.bus.Broadcast(d.ID, bus.EventAIThinking, bus.ThinkingPayload{Thinking: false})
	}

	window, err := s.buildContext(ctx, d)
	if err != nil {
		return message.Message{}, err
	}
	utterance, err := s.generator.Generate(ctx, window)
	if err != nil {
		return message.Message{}, err
	}
	if utterance.Type != message.TypeAIQuestion && utterance.Type != message.TypeAIPrompt {
		utterance.Type = message.TypeAIPrompt
	}

	appended, err := s.bus.Append(ctx, bus.AppendInput{
		DiscussionID: d.ID,
		Content:      utterance.Content,
		Type:         utterance.Type,
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("append facilitator prompt: %w", err)
	}
	return appended, nil
}

func (s *Scheduler) buildContext(ctx context.Context, d discussion.Discussion) (ai.Context, error) {
	roster, err := s.store.ListActiveParticipants(ctx, d.ID)
	if err != nil {
		return ai.Context{}, fmt.Errorf("list participants: %w", err)
	}
	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.DisplayName)
	}

	recent, err := s.store.ListRecentMessages(ctx, d.ID, s.config.ContextMessages)
	if err != nil {
		return ai.Context{}, fmt.Errorf("list recent messages: %w", err)
	}

	window := ai.Context{
		DiscussionID: d.ID,
		Title:        d.Title,
		Roster:       names,
		Messages:     recent,
	}
	if d.LessonID != "" {
		window.Description = "lesson " + d.LessonID
	}
	return window, nil
}

func (s *Scheduler) loadDiscussion(ctx context.Context, discussionID string) (discussion.Discussion, error) {
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return discussion.Discussion{}, discussion.ErrEmptyID
	}
	d, err := s.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return discussion.Discussion{}, apperrors.New(apperrors.CodeNotFound, "discussion does not exist")
		}
		return discussion.Discussion{}, fmt.Errorf("load discussion: %w", err)
	}
	return d, nil
}

func (s *Scheduler) loadParticipant(ctx context.Context, participantID string) (participant.Participant, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return participant.Participant{}, apperrors.New(apperrors.CodeNotFound, "participant id is required")
	}
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return participant.Participant{}, apperrors.New(apperrors.CodeNotFound, "participant does not exist")
		}
		return participant.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	return p, nil
}
