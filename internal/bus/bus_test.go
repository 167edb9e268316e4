package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seminarhq/seminar/internal/discussion"
	"github.com/seminarhq/seminar/internal/discussion/message"
	"github.com/seminarhq/seminar/internal/discussion/participant"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/registry"
	"github.com/seminarhq/seminar/internal/storage"
)

type fakeStore struct {
	mu          sync.Mutex
	discussions map[string]discussion.Discussion
	messages    map[string]message.Message
	deleted     map[string]bool
	order       map[string][]string
	reactions   map[string]map[string]int
	counts      map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		discussions: make(map[string]discussion.Discussion),
		messages:    make(map[string]message.Message),
		deleted:     make(map[string]bool),
		order:       make(map[string][]string),
		reactions:   make(map[string]map[string]int),
		counts:      make(map[string]int),
	}
}

func (f *fakeStore) GetDiscussion(_ context.Context, id string) (discussion.Discussion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.discussions[id]
	if !ok {
		return discussion.Discussion{}, storage.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, m message.Message) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.discussions[m.DiscussionID]
	if !ok {
		return message.Message{}, storage.ErrNotFound
	}
	if !d.IsActive {
		return message.Message{}, storage.ErrDiscussionInactive
	}
	m.Seq = int64(len(f.order[m.DiscussionID])) + 1
	f.messages[m.ID] = m
	f.order[m.DiscussionID] = append(f.order[m.DiscussionID], m.ID)
	return m, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok || f.deleted[id] {
		return message.Message{}, storage.ErrNotFound
	}
	if counters := f.reactions[id]; len(counters) > 0 {
		m.Reactions = make(map[string]int, len(counters))
		for kind, count := range counters {
			if count > 0 {
				m.Reactions[kind] = count
			}
		}
	}
	return m, nil
}

func (f *fakeStore) UpdateMessageContent(_ context.Context, id string, content string, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok || f.deleted[id] {
		return storage.ErrNotFound
	}
	m.Content = content
	m.EditedAt = &editedAt
	f.messages[id] = m
	return nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[id]; !ok || f.deleted[id] {
		return storage.ErrNotFound
	}
	f.deleted[id] = true
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, discussionID string, beforeSeq int64, limit int) ([]message.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var visible []message.Message
	for _, id := range f.order[discussionID] {
		if f.deleted[id] {
			continue
		}
		m := f.messages[id]
		if beforeSeq > 0 && m.Seq >= beforeSeq {
			continue
		}
		visible = append(visible, m)
	}
	hasMore := len(visible) > limit
	if hasMore {
		visible = visible[len(visible)-limit:]
	}
	return visible, hasMore, nil
}

func (f *fakeStore) AdjustReaction(_ context.Context, messageID string, kind string, delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counters, ok := f.reactions[messageID]
	if !ok {
		counters = make(map[string]int)
		f.reactions[messageID] = counters
	}
	counters[kind] += delta
	if counters[kind] < 0 {
		counters[kind] = 0
	}
	return counters[kind], nil
}

func (f *fakeStore) AdjustMessageCount(_ context.Context, participantID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[participantID] += delta
	if f.counts[participantID] < 0 {
		f.counts[participantID] = 0
	}
	return nil
}

func (f *fakeStore) messageRows(discussionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order[discussionID])
}

type fakeConn struct {
	mu     sync.Mutex
	events []registry.Event
}

func (c *fakeConn) Send(event registry.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) received() []registry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]registry.Event(nil), c.events...)
}

func newTestBus(t *testing.T) (*Bus, *fakeStore, *registry.Registry) {
	t.Helper()
	store := newFakeStore()
	now := time.Date(2026, time.May, 10, 9, 0, 0, 0, time.UTC)
	store.discussions["disc-1"] = discussion.Discussion{
		ID:            "disc-1",
		Title:         "Seminar",
		CreatorUserID: "user-creator",
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	reg := registry.New()
	b := New(store, reg)
	b.now = func() time.Time { return now }
	return b, store, reg
}

func userInput(content string) AppendInput {
	return AppendInput{
		DiscussionID: "disc-1",
		Author:       message.Author{UserID: "user-a", ParticipantID: "part-a"},
		Content:      content,
		Type:         message.TypeUser,
	}
}

func TestAppendOrdersAndBroadcasts(t *testing.T) {
	b, store, reg := newTestBus(t)
	conn := &fakeConn{}
	reg.Register("disc-1", participant.Identity{UserID: "user-b"}, conn)

	first, err := b.Append(context.Background(), userInput("one"))
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	second, err := b.Append(context.Background(), userInput("two"))
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", first.Seq, second.Seq)
	}

	events := conn.received()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for i, event := range events {
		if event.Type != EventNewMessage {
			t.Errorf("event %d type = %s, want new_message", i, event.Type)
		}
		payload, ok := event.Data.(MessagePayload)
		if !ok {
			t.Fatalf("event %d payload type = %T", i, event.Data)
		}
		if payload.Seq != int64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, payload.Seq, i+1)
		}
	}

	if store.counts["part-a"] != 2 {
		t.Errorf("author message count = %d, want 2", store.counts["part-a"])
	}
}

func TestAppendInactiveDiscussionLeavesNoRow(t *testing.T) {
	b, store, _ := newTestBus(t)
	closed := store.discussions["disc-1"].Close(time.Now().UTC())
	store.discussions["disc-1"] = closed

	_, err := b.Append(context.Background(), userInput("too late"))
	if !apperrors.IsCode(err, apperrors.CodePreconditionFailed) {
		t.Fatalf("append error = %v, want PRECONDITION_FAILED", err)
	}
	if rows := store.messageRows("disc-1"); rows != 0 {
		t.Fatalf("rows after rejected append = %d, want 0", rows)
	}
}

func TestAppendParentValidation(t *testing.T) {
	b, store, _ := newTestBus(t)

	input := userInput("reply")
	input.ParentID = "missing"
	if _, err := b.Append(context.Background(), input); !apperrors.IsCode(err, apperrors.CodeMessageBadParent) {
		t.Fatalf("append with missing parent error = %v, want MESSAGE_PARENT_MISMATCH", err)
	}

	parent, err := b.Append(context.Background(), userInput("root"))
	if err != nil {
		t.Fatalf("append parent: %v", err)
	}

	now := time.Now().UTC()
	store.discussions["disc-2"] = discussion.Discussion{ID: "disc-2", Title: "Other", IsActive: true, CreatedAt: now, UpdatedAt: now}
	foreign := AppendInput{
		DiscussionID: "disc-2",
		Author:       message.Author{UserID: "user-a"},
		Content:      "cross reply",
		Type:         message.TypeUser,
		ParentID:     parent.ID,
	}
	if _, err := b.Append(context.Background(), foreign); !apperrors.IsCode(err, apperrors.CodeMessageBadParent) {
		t.Fatalf("append with foreign parent error = %v, want MESSAGE_PARENT_MISMATCH", err)
	}

	input = userInput("proper reply")
	input.ParentID = parent.ID
	if _, err := b.Append(context.Background(), input); err != nil {
		t.Fatalf("append reply: %v", err)
	}
}

func TestEditRules(t *testing.T) {
	b, _, reg := newTestBus(t)
	conn := &fakeConn{}
	reg.Register("disc-1", participant.Identity{UserID: "user-b"}, conn)

	m, err := b.Append(context.Background(), userInput("draft"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := b.Edit(context.Background(), m.ID, message.Author{UserID: "user-b"}, "hijack"); !apperrors.IsCode(err, apperrors.CodeMessageNotAuthor) {
		t.Fatalf("edit by non-author error = %v, want MESSAGE_NOT_AUTHOR", err)
	}

	edited, err := b.Edit(context.Background(), m.ID, message.Author{UserID: "user-a", ParticipantID: "part-a"}, "final")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Content != "final" || edited.EditedAt == nil {
		t.Errorf("edited = %+v", edited)
	}

	events := conn.received()
	last := events[len(events)-1]
	if last.Type != EventMessageEdited {
		t.Errorf("last event type = %s, want message_edited", last.Type)
	}

	system, err := b.Append(context.Background(), AppendInput{
		DiscussionID: "disc-1",
		Content:      "user-b joined",
		Type:         message.TypeSystem,
	})
	if err != nil {
		t.Fatalf("append system: %v", err)
	}
	if _, err := b.Edit(context.Background(), system.ID, message.Author{UserID: "user-a"}, "rewrite"); !apperrors.IsCode(err, apperrors.CodeMessageImmutable) {
		t.Fatalf("edit system message error = %v, want MESSAGE_IMMUTABLE", err)
	}
}

func TestDeleteRules(t *testing.T) {
	b, store, reg := newTestBus(t)
	conn := &fakeConn{}
	reg.Register("disc-1", participant.Identity{UserID: "user-b"}, conn)

	m, err := b.Append(context.Background(), userInput("regret"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if store.counts["part-a"] != 1 {
		t.Fatalf("count after append = %d, want 1", store.counts["part-a"])
	}

	stranger := DeleteCaller{Author: message.Author{UserID: "user-b"}, Role: participant.RoleParticipant}
	if err := b.Delete(context.Background(), m.ID, stranger); !apperrors.IsCode(err, apperrors.CodeMessageNotAuthor) {
		t.Fatalf("delete by stranger error = %v, want MESSAGE_NOT_AUTHOR", err)
	}

	author := DeleteCaller{Author: message.Author{UserID: "user-a", ParticipantID: "part-a"}, Role: participant.RoleParticipant}
	if err := b.Delete(context.Background(), m.ID, author); err != nil {
		t.Fatalf("delete by author: %v", err)
	}
	if store.counts["part-a"] != 0 {
		t.Errorf("count after author delete = %d, want 0", store.counts["part-a"])
	}

	events := conn.received()
	last := events[len(events)-1]
	if last.Type != EventMessageDeleted {
		t.Fatalf("last event type = %s, want message_deleted", last.Type)
	}
	payload, ok := last.Data.(DeletedPayload)
	if !ok || payload.ID != m.ID {
		t.Errorf("tombstone payload = %+v", last.Data)
	}

	// Moderator removal of another author's message keeps their count.
	other, err := b.Append(context.Background(), userInput("kept count"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	moderator := DeleteCaller{Author: message.Author{UserID: "user-mod"}, Role: participant.RoleModerator}
	if err := b.Delete(context.Background(), other.ID, moderator); err != nil {
		t.Fatalf("delete by moderator: %v", err)
	}
	if store.counts["part-a"] != 1 {
		t.Errorf("count after moderator delete = %d, want 1", store.counts["part-a"])
	}

	system, err := b.Append(context.Background(), AppendInput{
		DiscussionID: "disc-1",
		Content:      "user-b joined",
		Type:         message.TypeSystem,
	})
	if err != nil {
		t.Fatalf("append system: %v", err)
	}
	creator := DeleteCaller{Author: message.Author{UserID: "user-creator"}, Role: participant.RoleCreator}
	if err := b.Delete(context.Background(), system.ID, creator); !apperrors.IsCode(err, apperrors.CodeMessageImmutable) {
		t.Fatalf("delete system message error = %v, want MESSAGE_IMMUTABLE", err)
	}
}

func TestListPagesThroughCursor(t *testing.T) {
	b, _, _ := newTestBus(t)
	for i := 0; i < 5; i++ {
		if _, err := b.Append(context.Background(), userInput(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, err := b.List(context.Background(), "disc-1", "", 2)
	if err != nil {
		t.Fatalf("list newest: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Seq != 4 || page.Messages[1].Seq != 5 {
		t.Fatalf("newest page = %+v", page.Messages)
	}
	if !page.HasMore || page.NextCursor == "" {
		t.Fatal("newest page should link older history")
	}

	page, err = b.List(context.Background(), "disc-1", page.NextCursor, 2)
	if err != nil {
		t.Fatalf("list older: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Seq != 2 || page.Messages[1].Seq != 3 {
		t.Fatalf("older page = %+v", page.Messages)
	}

	page, err = b.List(context.Background(), "disc-1", page.NextCursor, 2)
	if err != nil {
		t.Fatalf("list last: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Seq != 1 || page.HasMore {
		t.Fatalf("last page = %+v hasMore=%v", page.Messages, page.HasMore)
	}

	if _, err := b.List(context.Background(), "disc-1", "not-a-cursor!", 2); !apperrors.IsCode(err, apperrors.CodePreconditionFailed) {
		t.Errorf("list with bad cursor error = %v, want PRECONDITION_FAILED", err)
	}
}

func TestReactToggles(t *testing.T) {
	b, _, _ := newTestBus(t)
	m, err := b.Append(context.Background(), userInput("insightful"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	count, err := b.React(context.Background(), m.ID, "thumbs_up")
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	count, err = b.React(context.Background(), m.ID, "thumbs_up")
	if err != nil {
		t.Fatalf("second react: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 after toggle", count)
	}
	count, err = b.React(context.Background(), m.ID, "thumbs_up")
	if err != nil {
		t.Fatalf("third react: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 after re-toggle", count)
	}

	if _, err := b.React(context.Background(), m.ID, "  "); !apperrors.IsCode(err, apperrors.CodeMessageEmptyReaction) {
		t.Errorf("react with empty kind error = %v, want MESSAGE_EMPTY_REACTION", err)
	}
}

func TestTypingIsEphemeral(t *testing.T) {
	b, store, reg := newTestBus(t)
	conn := &fakeConn{}
	reg.Register("disc-1", participant.Identity{UserID: "user-b"}, conn)

	b.SetTyping("disc-1", participant.Identity{UserID: "user-a"}, "Ada", true)

	events := conn.received()
	if len(events) != 1 || events[0].Type != EventTyping {
		t.Fatalf("events = %+v, want one typing event", events)
	}
	payload, ok := events[0].Data.(TypingPayload)
	if !ok || !payload.Typing || payload.DisplayName != "Ada" {
		t.Errorf("payload = %+v", events[0].Data)
	}
	if rows := store.messageRows("disc-1"); rows != 0 {
		t.Errorf("typing persisted %d rows, want 0", rows)
	}
}
