package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/seminarhq/seminar/internal/discussion"
	"github.com/seminarhq/seminar/internal/storage"
)

const discussionColumns = `id, title, lesson_id, creator_user_id, max_participants,
	is_active, closed_at, expires_at, created_at, updated_at`

// PutDiscussion upserts a discussion record.
func (s *Store) PutDiscussion(ctx context.Context, d discussion.Discussion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("discussion id is required")
	}

	var maxParticipants sql.NullInt64
	if d.MaxParticipants != nil {
		maxParticipants = sql.NullInt64{Int64: int64(*d.MaxParticipants), Valid: true}
	}
	isActive := 0
	if d.IsActive {
		isActive = 1
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO discussions (`+discussionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   lesson_id = excluded.lesson_id,
		   creator_user_id = excluded.creator_user_id,
		   max_participants = excluded.max_participants,
		   is_active = excluded.is_active,
		   closed_at = excluded.closed_at,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		d.ID,
		d.Title,
		d.LessonID,
		d.CreatorUserID,
		maxParticipants,
		isActive,
		toNullMillis(d.ClosedAt),
		toNullMillis(d.ExpiresAt),
		toMillis(d.CreatedAt),
		toMillis(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put discussion: %w", err)
	}
	return nil
}

// GetDiscussion returns one discussion record.
func (s *Store) GetDiscussion(ctx context.Context, id string) (discussion.Discussion, error) {
	if err := ctx.Err(); err != nil {
		return discussion.Discussion{}, err
	}
	if s == nil || s.sqlDB == nil {
		return discussion.Discussion{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return discussion.Discussion{}, fmt.Errorf("discussion id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+discussionColumns+` FROM discussions WHERE id = ?`,
		id,
	)
	d, err := scanDiscussion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return discussion.Discussion{}, storage.ErrNotFound
		}
		return discussion.Discussion{}, fmt.Errorf("get discussion: %w", err)
	}
	return d, nil
}

// ListActiveDiscussions returns every discussion still accepting activity.
func (s *Store) ListActiveDiscussions(ctx context.Context) ([]discussion.Discussion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+discussionColumns+` FROM discussions
		 WHERE is_active = 1
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active discussions: %w", err)
	}
	defer rows.Close()

	var discussions []discussion.Discussion
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, fmt.Errorf("list active discussions: %w", err)
		}
		discussions = append(discussions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active discussions: %w", err)
	}
	return discussions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscussion(row rowScanner) (discussion.Discussion, error) {
	var (
		d               discussion.Discussion
		maxParticipants sql.NullInt64
		isActive        int
		closedAt        sql.NullInt64
		expiresAt       sql.NullInt64
		createdAt       int64
		updatedAt       int64
	)
	if err := row.Scan(
		&d.ID,
		&d.Title,
		&d.LessonID,
		&d.CreatorUserID,
		&maxParticipants,
		&isActive,
		&closedAt,
		&expiresAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return discussion.Discussion{}, err
	}
	if maxParticipants.Valid {
		capacity := int(maxParticipants.Int64)
		d.MaxParticipants = &capacity
	}
	d.IsActive = isActive != 0
	d.ClosedAt = fromNullMillis(closedAt)
	d.ExpiresAt = fromNullMillis(expiresAt)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return d, nil
}
