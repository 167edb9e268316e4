package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seminarhq/seminar/internal/discussion/message"
	"github.com/seminarhq/seminar/internal/storage"
)

const messageColumns = `id, discussion_id, seq, author_user_id, author_participant_id,
	content, type, parent_id, edited_at, created_at`

// AppendMessage persists a message with the next per-discussion sequence
// number. The sequence read and the insert share one write transaction, so
// numbers are strictly increasing and never reused even under concurrent
// appends from other connections.
func (s *Store) AppendMessage(ctx context.Context, m message.Message) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return message.Message{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(m.ID) == "" {
		return message.Message{}, fmt.Errorf("message id is required")
	}
	if strings.TrimSpace(m.DiscussionID) == "" {
		return message.Message{}, fmt.Errorf("discussion id is required")
	}

	tx, err := s.beginWrite(ctx)
	if err != nil {
		return message.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var isActive int
	err = tx.QueryRowContext(
		ctx,
		`SELECT is_active FROM discussions WHERE id = ?`,
		m.DiscussionID,
	).Scan(&isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, storage.ErrNotFound
		}
		return message.Message{}, fmt.Errorf("load discussion: %w", err)
	}
	if isActive == 0 {
		return message.Message{}, storage.ErrDiscussionInactive
	}

	var lastSeq int64
	err = tx.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE discussion_id = ?`,
		m.DiscussionID,
	).Scan(&lastSeq)
	if err != nil {
		return message.Message{}, fmt.Errorf("read last seq: %w", err)
	}
	m.Seq = lastSeq + 1

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.DiscussionID,
		m.Seq,
		toNullString(m.Author.UserID),
		toNullString(m.Author.ParticipantID),
		m.Content,
		message.TypeLabel(m.Type),
		toNullString(m.ParentID),
		toNullMillis(m.EditedAt),
		toMillis(m.CreatedAt),
	); err != nil {
		return message.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return message.Message{}, fmt.Errorf("commit append: %w", err)
	}
	return m, nil
}

// GetMessage returns one message with its reaction counters. Soft-deleted
// messages report storage.ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id string) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return message.Message{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return message.Message{}, fmt.Errorf("message id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, storage.ErrNotFound
		}
		return message.Message{}, fmt.Errorf("get message: %w", err)
	}
	reactions, err := s.loadReactions(ctx, m.ID)
	if err != nil {
		return message.Message{}, err
	}
	m.Reactions = reactions
	return m, nil
}

// UpdateMessageContent replaces a message body and stamps the edit time.
func (s *Store) UpdateMessageContent(ctx context.Context, id string, content string, editedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE messages SET content = ?, edited_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		content,
		toMillis(editedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteMessage soft-deletes a message. The row stays for sequence
// continuity; reads exclude it.
func (s *Store) DeleteMessage(ctx context.Context, id string, deletedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE messages SET deleted_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		toMillis(deletedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMessages returns one page of messages older than beforeSeq in
// ascending sequence order. beforeSeq <= 0 requests the newest page. The
// bool result reports whether older messages remain before the page.
func (s *Store) ListMessages(ctx context.Context, discussionID string, beforeSeq int64, limit int) ([]message.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, false, fmt.Errorf("storage is not configured")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return nil, false, fmt.Errorf("discussion id is required")
	}
	if limit <= 0 {
		return nil, false, fmt.Errorf("limit must be greater than zero")
	}

	var (
		rows *sql.Rows
		err  error
	)
	if beforeSeq <= 0 {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT `+messageColumns+` FROM messages
			 WHERE discussion_id = ? AND deleted_at IS NULL
			 ORDER BY seq DESC
			 LIMIT ?`,
			discussionID,
			limit+1,
		)
	} else {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT `+messageColumns+` FROM messages
			 WHERE discussion_id = ? AND deleted_at IS NULL AND seq < ?
			 ORDER BY seq DESC
			 LIMIT ?`,
			discussionID,
			beforeSeq,
			limit+1,
		)
	}
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var newest []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, false, fmt.Errorf("list messages: %w", err)
		}
		newest = append(newest, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}

	hasMore := len(newest) > limit
	if hasMore {
		newest = newest[:limit]
	}

	// Fetched newest-first for the cursor; callers read oldest-first.
	messages := make([]message.Message, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		messages = append(messages, newest[i])
	}
	for i := range messages {
		reactions, err := s.loadReactions(ctx, messages[i].ID)
		if err != nil {
			return nil, false, err
		}
		messages[i].Reactions = reactions
	}
	return messages, hasMore, nil
}

// ListRecentMessages returns the newest limit messages in ascending order.
func (s *Store) ListRecentMessages(ctx context.Context, discussionID string, limit int) ([]message.Message, error) {
	messages, _, err := s.ListMessages(ctx, discussionID, 0, limit)
	return messages, err
}

// ListAutomatedSince returns creation times of facilitator messages at or
// after since, oldest first.
func (s *Store) ListAutomatedSince(ctx context.Context, discussionID string, since time.Time) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return nil, fmt.Errorf("discussion id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT created_at FROM messages
		 WHERE discussion_id = ? AND type IN (?, ?) AND created_at >= ?
		 ORDER BY created_at ASC`,
		discussionID,
		message.TypeLabel(message.TypeAIQuestion),
		message.TypeLabel(message.TypeAIPrompt),
		toMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("list automated since: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var createdAt int64
		if err := rows.Scan(&createdAt); err != nil {
			return nil, fmt.Errorf("list automated since: %w", err)
		}
		times = append(times, fromMillis(createdAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list automated since: %w", err)
	}
	return times, nil
}

// LastHumanMessageAt returns the creation time of the newest participant
// authored message. System announcements and facilitator output do not count
// as activity for inactivity detection.
func (s *Store) LastHumanMessageAt(ctx context.Context, discussionID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if s == nil || s.sqlDB == nil {
		return time.Time{}, fmt.Errorf("storage is not configured")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return time.Time{}, fmt.Errorf("discussion id is required")
	}

	var createdAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT MAX(created_at) FROM messages
		 WHERE discussion_id = ? AND type IN (?, ?)`,
		discussionID,
		message.TypeLabel(message.TypeUser),
		message.TypeLabel(message.TypeModerator),
	).Scan(&createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("last human message: %w", err)
	}
	if !createdAt.Valid {
		return time.Time{}, storage.ErrNotFound
	}
	return fromMillis(createdAt.Int64), nil
}

// AdjustReaction applies delta to an aggregate reaction counter and returns
// the resulting count, floored at zero.
func (s *Store) AdjustReaction(ctx context.Context, messageID string, kind string, delta int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return 0, fmt.Errorf("message id is required")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return 0, fmt.Errorf("reaction kind is required")
	}

	tx, err := s.beginWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO message_reactions (message_id, kind, count)
		 VALUES (?, ?, MAX(0, ?))
		 ON CONFLICT(message_id, kind) DO UPDATE SET
		   count = MAX(0, count + ?)`,
		messageID,
		kind,
		delta,
		delta,
	); err != nil {
		return 0, fmt.Errorf("adjust reaction: %w", err)
	}

	var count int
	err = tx.QueryRowContext(
		ctx,
		`SELECT count FROM message_reactions WHERE message_id = ? AND kind = ?`,
		messageID,
		kind,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("adjust reaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reaction: %w", err)
	}
	return count, nil
}

func (s *Store) loadReactions(ctx context.Context, messageID string) (map[string]int, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT kind, count FROM message_reactions
		 WHERE message_id = ? AND count > 0`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	defer rows.Close()

	var reactions map[string]int
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("load reactions: %w", err)
		}
		if reactions == nil {
			reactions = make(map[string]int)
		}
		reactions[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	return reactions, nil
}

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		m                   message.Message
		authorUserID        sql.NullString
		authorParticipantID sql.NullString
		typeLabel           string
		parentID            sql.NullString
		editedAt            sql.NullInt64
		createdAt           int64
	)
	if err := row.Scan(
		&m.ID,
		&m.DiscussionID,
		&m.Seq,
		&authorUserID,
		&authorParticipantID,
		&m.Content,
		&typeLabel,
		&parentID,
		&editedAt,
		&createdAt,
	); err != nil {
		return message.Message{}, err
	}
	m.Author = message.Author{
		UserID:        authorUserID.String,
		ParticipantID: authorParticipantID.String,
	}
	typ, err := message.TypeFromLabel(typeLabel)
	if err != nil {
		return message.Message{}, fmt.Errorf("parse message type %q: %w", typeLabel, err)
	}
	m.Type = typ
	m.ParentID = parentID.String
	m.EditedAt = fromNullMillis(editedAt)
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}
