// Package bus persists discussion messages in order and fans them out to
// live connections.
//
// Persistence and delivery are deliberately decoupled: a message is durable
// once its row commits, and fan-out afterwards is best effort. A slow or dead
// connection can never roll back or reorder history.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/seminarhq/seminar/internal/discussion"
	"github.com/seminarhq/seminar/internal/discussion/message"
	"github.com/seminarhq/seminar/internal/discussion/participant"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/id"
	"github.com/seminarhq/seminar/internal/registry"
	"github.com/seminarhq/seminar/internal/storage"
)

// DefaultPageSize bounds history reads when the caller does not pick a limit.
const DefaultPageSize = 50

// MaxPageSize caps history reads regardless of the requested limit.
const MaxPageSize = 200

// Store is the persistence surface the bus needs.
type Store interface {
	GetDiscussion(ctx context.Context, id string) (discussion.Discussion, error)
	AppendMessage(ctx context.Context, m message.Message) (message.Message, error)
	GetMessage(ctx context.Context, id string) (message.Message, error)
	UpdateMessageContent(ctx context.Context, id string, content string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, id string, deletedAt time.Time) error
	ListMessages(ctx context.Context, discussionID string, beforeSeq int64, limit int) ([]message.Message, bool, error)
	AdjustReaction(ctx context.Context, messageID string, kind string, delta int) (int, error)
	AdjustMessageCount(ctx context.Context, participantID string, delta int) error
}

// Bus is the message store and broadcast hub for all discussions.
type Bus struct {
	store    Store
	registry *registry.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now         func() time.Time
	idGenerator func() (string, error)
}

// New creates a bus over the given store and connection registry.
func New(store Store, reg *registry.Registry) *Bus {
	return &Bus{
		store:       store,
		registry:    reg,
		locks:       make(map[string]*sync.Mutex),
		now:         time.Now,
		idGenerator: id.NewID,
	}
}

// lock returns the per-discussion mutex, creating it on first use. Sequence
// assignment for one discussion is serialized through it.
func (b *Bus) lock(discussionID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[discussionID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[discussionID] = l
	}
	return l
}

// AppendInput describes one message to persist and broadcast.
type AppendInput struct {
	DiscussionID string
	Author       message.Author
	Content      string
	Type         message.Type
	ParentID     string
}

// Append persists a message with the next sequence number and broadcasts it
// as a new_message event. Appends to inactive discussions fail with a
// precondition error and leave no row behind.
func (b *Bus) Append(ctx context.Context, input AppendInput) (message.Message, error) {
	if b == nil || b.store == nil {
		return message.Message{}, errors.New("bus is not configured")
	}
	ctx, span := otel.Tracer("seminar/bus").Start(ctx, "bus.append")
	defer span.End()

	input.DiscussionID = strings.TrimSpace(input.DiscussionID)
	if input.DiscussionID == "" {
		return message.Message{}, discussion.ErrEmptyID
	}
	content, err := message.NormalizeContent(input.Content)
	if err != nil {
		return message.Message{}, err
	}
	if input.Type == message.TypeUnspecified {
		return message.Message{}, message.ErrInvalidType
	}
	input.ParentID = strings.TrimSpace(input.ParentID)

	l := b.lock(input.DiscussionID)
	l.Lock()
	defer l.Unlock()

	if _, err := b.loadDiscussion(ctx, input.DiscussionID); err != nil {
		return message.Message{}, err
	}
	if input.ParentID != "" {
		parent, err := b.store.GetMessage(ctx, input.ParentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return message.Message{}, apperrors.New(apperrors.CodeMessageBadParent, "parent message does not exist")
			}
			return message.Message{}, fmt.Errorf("load parent message: %w", err)
		}
		if parent.DiscussionID != input.DiscussionID {
			return message.Message{}, apperrors.New(apperrors.CodeMessageBadParent, "parent message belongs to another discussion")
		}
	}

	messageID, err := b.idGenerator()
	if err != nil {
		return message.Message{}, fmt.Errorf("generate message id: %w", err)
	}
	persisted, err := b.store.AppendMessage(ctx, message.Message{
		ID:           messageID,
		DiscussionID: input.DiscussionID,
		Author:       input.Author,
		Content:      content,
		Type:         input.Type,
		ParentID:     input.ParentID,
		CreatedAt:    b.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrDiscussionInactive) {
			return message.Message{}, apperrors.New(apperrors.CodePreconditionFailed, "discussion is not accepting messages")
		}
		if errors.Is(err, storage.ErrNotFound) {
			return message.Message{}, apperrors.New(apperrors.CodeNotFound, "discussion does not exist")
		}
		return message.Message{}, fmt.Errorf("append message: %w", err)
	}

	if persisted.Author.ParticipantID != "" && !persisted.Type.Automated() && persisted.Type != message.TypeSystem {
		if err := b.store.AdjustMessageCount(ctx, persisted.Author.ParticipantID, 1); err != nil {
			return message.Message{}, fmt.Errorf("adjust message count: %w", err)
		}
	}

	b.broadcast(persisted.DiscussionID, EventNewMessage, payloadFor(persisted))
	return persisted, nil
}

// Edit replaces a message body. Only the original author may edit, and
// system or facilitator messages never change.
func (b *Bus) Edit(ctx context.Context, messageID string, editor message.Author, newContent string) (message.Message, error) {
	if b == nil || b.store == nil {
		return message.Message{}, errors.New("bus is not configured")
	}
	content, err := message.NormalizeContent(newContent)
	if err != nil {
		return message.Message{}, err
	}

	m, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.Type.Immutable() {
		return message.Message{}, message.ErrImmutable
	}
	if !sameAuthor(m.Author, editor) {
		return message.Message{}, apperrors.New(apperrors.CodeMessageNotAuthor, "only the author may edit a message")
	}

	editedAt := b.now().UTC()
	if err := b.store.UpdateMessageContent(ctx, m.ID, content, editedAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return message.Message{}, apperrors.New(apperrors.CodeNotFound, "message does not exist")
		}
		return message.Message{}, fmt.Errorf("update message: %w", err)
	}
	m.Content = content
	m.EditedAt = &editedAt

	b.broadcast(m.DiscussionID, EventMessageEdited, payloadFor(m))
	return m, nil
}

// DeleteCaller identifies who is deleting a message.
type DeleteCaller struct {
	Author message.Author
	Role   participant.Role
}

// Delete removes a message. The author may delete their own; moderators and
// creators may delete anyone's. System messages are permanent. An author
// initiated delete returns the message to the author's unsent count.
func (b *Bus) Delete(ctx context.Context, messageID string, caller DeleteCaller) error {
	if b == nil || b.store == nil {
		return errors.New("bus is not configured")
	}

	m, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.Type == message.TypeSystem {
		return message.ErrImmutable
	}
	byAuthor := sameAuthor(m.Author, caller.Author)
	if !byAuthor && caller.Role != participant.RoleModerator && caller.Role != participant.RoleCreator {
		return apperrors.New(apperrors.CodeMessageNotAuthor, "only the author or a moderator may delete a message")
	}

	if err := b.store.DeleteMessage(ctx, m.ID, b.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "message does not exist")
		}
		return fmt.Errorf("delete message: %w", err)
	}
	if byAuthor && m.Author.ParticipantID != "" {
		if err := b.store.AdjustMessageCount(ctx, m.Author.ParticipantID, -1); err != nil {
			return fmt.Errorf("adjust message count: %w", err)
		}
	}

	// The tombstone event carries the id only; the content is gone.
	b.broadcast(m.DiscussionID, EventMessageDeleted, DeletedPayload{ID: m.ID})
	return nil
}

// Page is one slice of discussion history.
type Page struct {
	Messages   []message.Message
	NextCursor string
	HasMore    bool
}

// List returns history strictly older than the cursor, ascending. An empty
// cursor requests the newest page.
func (b *Bus) List(ctx context.Context, discussionID string, cursor string, limit int) (Page, error) {
	if b == nil || b.store == nil {
		return Page{}, errors.New("bus is not configured")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return Page{}, discussion.ErrEmptyID
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	beforeSeq, err := decodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	messages, hasMore, err := b.store.ListMessages(ctx, discussionID, beforeSeq, limit)
	if err != nil {
		return Page{}, fmt.Errorf("list messages: %w", err)
	}
	page := Page{Messages: messages, HasMore: hasMore}
	if hasMore && len(messages) > 0 {
		page.NextCursor = encodeCursor(messages[0].Seq)
	}
	return page, nil
}

// React adjusts a message's aggregate reaction counter and broadcasts the
// updated message. Counters are not per-identity; rapid toggles from several
// participants may interleave, which is accepted.
func (b *Bus) React(ctx context.Context, messageID string, kind string) (int, error) {
	if b == nil || b.store == nil {
		return 0, errors.New("bus is not configured")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return 0, apperrors.New(apperrors.CodeMessageEmptyReaction, "reaction kind is required")
	}

	m, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return 0, err
	}

	// Toggle from the observed aggregate: a zero counter gains a reaction,
	// a nonzero one loses it. Concurrent toggles may lose updates; the
	// counter is not per-user state.
	delta := 1
	if m.Reactions[kind] > 0 {
		delta = -1
	}
	count, err := b.store.AdjustReaction(ctx, m.ID, kind, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust reaction: %w", err)
	}

	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	if count > 0 {
		m.Reactions[kind] = count
	} else {
		delete(m.Reactions, kind)
	}
	b.broadcast(m.DiscussionID, EventMessageEdited, payloadFor(m))
	return count, nil
}

// SetTyping broadcasts an ephemeral typing indicator. Nothing is persisted.
func (b *Bus) SetTyping(discussionID string, identity participant.Identity, displayName string, typing bool) {
	if b == nil {
		return
	}
	b.broadcast(discussionID, EventTyping, TypingPayload{
		Identity:    identity.Key(),
		DisplayName: strings.TrimSpace(displayName),
		Typing:      typing,
	})
}

// Broadcast publishes an arbitrary event to a discussion's connections on
// behalf of other components.
func (b *Bus) Broadcast(discussionID string, eventType string, data any) {
	if b == nil {
		return
	}
	b.broadcast(discussionID, eventType, data)
}

func (b *Bus) broadcast(discussionID string, eventType string, data any) {
	if b.registry == nil {
		return
	}
	b.registry.Broadcast(discussionID, registry.Event{
		Type:         eventType,
		DiscussionID: discussionID,
		Data:         data,
		Timestamp:    b.now().UTC(),
	})
}

func (b *Bus) loadDiscussion(ctx context.Context, discussionID string) (discussion.Discussion, error) {
	d, err := b.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return discussion.Discussion{}, apperrors.New(apperrors.CodeNotFound, "discussion does not exist")
		}
		return discussion.Discussion{}, fmt.Errorf("load discussion: %w", err)
	}
	if !d.IsActive {
		return discussion.Discussion{}, apperrors.New(apperrors.CodePreconditionFailed, "discussion is not accepting messages")
	}
	return d, nil
}

func (b *Bus) loadMessage(ctx context.Context, messageID string) (message.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return message.Message{}, apperrors.New(apperrors.CodeNotFound, "message id is required")
	}
	m, err := b.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return message.Message{}, apperrors.New(apperrors.CodeNotFound, "message does not exist")
		}
		return message.Message{}, fmt.Errorf("load message: %w", err)
	}
	return m, nil
}

// sameAuthor matches by the strongest identity available: user id when the
// message has one, participant id otherwise.
func sameAuthor(a message.Author, b message.Author) bool {
	if a.System() {
		return false
	}
	if a.UserID != "" {
		return a.UserID == b.UserID
	}
	return a.ParticipantID != "" && a.ParticipantID == b.ParticipantID
}
