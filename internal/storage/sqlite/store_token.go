package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seminarhq/seminar/internal/storage"
)

const tokenColumns = `token, discussion_id, status, sender_id, recipient_email,
	expires_at, created_at, updated_at`

// PutToken upserts one invitation token ledger row.
func (s *Store) PutToken(ctx context.Context, t storage.InvitationToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(t.Token) == "" {
		return fmt.Errorf("token value is required")
	}
	if strings.TrimSpace(t.DiscussionID) == "" {
		return fmt.Errorf("discussion id is required")
	}
	if strings.TrimSpace(t.Status) == "" {
		return fmt.Errorf("token status is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO invitation_tokens (`+tokenColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET
		   status = excluded.status,
		   recipient_email = excluded.recipient_email,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		t.Token,
		t.DiscussionID,
		t.Status,
		t.SenderID,
		toNullString(t.RecipientEmail),
		toMillis(t.ExpiresAt),
		toMillis(t.CreatedAt),
		toMillis(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// GetToken returns one ledger row.
func (s *Store) GetToken(ctx context.Context, token string) (storage.InvitationToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.InvitationToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.InvitationToken{}, fmt.Errorf("storage is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return storage.InvitationToken{}, fmt.Errorf("token value is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+tokenColumns+` FROM invitation_tokens WHERE token = ?`,
		token,
	)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.InvitationToken{}, storage.ErrNotFound
		}
		return storage.InvitationToken{}, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// ListTokens returns every ledger row for a discussion, newest first.
func (s *Store) ListTokens(ctx context.Context, discussionID string) ([]storage.InvitationToken, error) {
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
		`SELECT `+tokenColumns+` FROM invitation_tokens
		 WHERE discussion_id = ?
		 ORDER BY created_at DESC, token ASC`,
		discussionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []storage.InvitationToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("list tokens: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// TransitionTokenStatus atomically moves a ledger row between statuses.
//
// Returns false with a nil error when the row exists but is not in the
// expected from status, and storage.ErrNotFound when there is no row.
func (s *Store) TransitionTokenStatus(ctx context.Context, token string, from string, to string, updatedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false, fmt.Errorf("token value is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE invitation_tokens
		 SET status = ?, updated_at = ?
		 WHERE token = ? AND status = ?`,
		to,
		toMillis(updatedAt),
		token,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("transition token status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition token status: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = s.sqlDB.QueryRowContext(
		ctx,
		`SELECT 1 FROM invitation_tokens WHERE token = ?`,
		token,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("transition token status: %w", err)
	}
	return false, nil
}

func scanToken(row rowScanner) (storage.InvitationToken, error) {
	var (
		t              storage.InvitationToken
		recipientEmail sql.NullString
		expiresAt      int64
		createdAt      int64
		updatedAt      int64
	)
	if err := row.Scan(
		&t.Token,
		&t.DiscussionID,
		&t.Status,
		&t.SenderID,
		&recipientEmail,
		&expiresAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.InvitationToken{}, err
	}
	t.RecipientEmail = recipientEmail.String
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}
