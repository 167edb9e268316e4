package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/seminarhq/seminar/internal/discussion/participant"
	"github.com/seminarhq/seminar/internal/storage"
)

const participantColumns = `id, discussion_id, user_id, session_id, display_name,
	role, joined_at, left_at, last_seen_at, message_count`

// AdmitParticipant admits a participant inside one write transaction.
//
// The transaction supersedes any prior active record for the same identity,
// counts the remaining active occupants, enforces the capacity strictly and
// inserts the new record. Concurrent admissions to the last open slot resolve
// to exactly one winner; losers get storage.ErrAtCapacity.
func (s *Store) AdmitParticipant(ctx context.Context, p participant.Participant, maxParticipants *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("participant id is required")
	}
	if strings.TrimSpace(p.DiscussionID) == "" {
		return fmt.Errorf("discussion id is required")
	}

	tx, err := s.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var isActive int
	err = tx.QueryRowContext(
		ctx,
		`SELECT is_active FROM discussions WHERE id = ?`,
		p.DiscussionID,
	).Scan(&isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load discussion: %w", err)
	}
	if isActive == 0 {
		return storage.ErrDiscussionInactive
	}

	// A rejoin replaces the prior active record before the capacity count so
	// an occupant can never be rejected for holding its own slot.
	identityClause, identityArg := identityPredicate(p.Identity)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE participants SET left_at = ?
		 WHERE discussion_id = ? AND left_at IS NULL AND `+identityClause,
		toMillis(p.JoinedAt),
		p.DiscussionID,
		identityArg,
	); err != nil {
		return fmt.Errorf("supersede prior record: %w", err)
	}

	if maxParticipants != nil {
		var activeCount int
		err = tx.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM participants
			 WHERE discussion_id = ? AND left_at IS NULL`,
			p.DiscussionID,
		).Scan(&activeCount)
		if err != nil {
			return fmt.Errorf("count active participants: %w", err)
		}
		if activeCount >= *maxParticipants {
			return storage.ErrAtCapacity
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO participants (`+participantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		p.ID,
		p.DiscussionID,
		toNullString(p.Identity.UserID),
		toNullString(p.Identity.SessionID),
		p.DisplayName,
		participant.RoleLabel(p.Role),
		toMillis(p.JoinedAt),
		toMillis(p.LastSeenAt),
		p.MessageCount,
	); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admission: %w", err)
	}
	return nil
}

// identityPredicate returns the WHERE fragment matching one identity side.
func identityPredicate(identity participant.Identity) (string, string) {
	if identity.Anonymous() {
		return "session_id = ?", identity.SessionID
	}
	return "user_id = ?", identity.UserID
}

// GetParticipant returns one participant record.
func (s *Store) GetParticipant(ctx context.Context, id string) (participant.Participant, error) {
	if err := ctx.Err(); err != nil {
		return participant.Participant{}, err
	}
	if s == nil || s.sqlDB == nil {
		return participant.Participant{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return participant.Participant{}, fmt.Errorf("participant id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = ?`,
		id,
	)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return participant.Participant{}, storage.ErrNotFound
		}
		return participant.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// FindActiveParticipant returns the active record for an identity, if any.
func (s *Store) FindActiveParticipant(ctx context.Context, discussionID string, identity participant.Identity) (participant.Participant, error) {
	if err := ctx.Err(); err != nil {
		return participant.Participant{}, err
	}
	if s == nil || s.sqlDB == nil {
		return participant.Participant{}, fmt.Errorf("storage is not configured")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return participant.Participant{}, fmt.Errorf("discussion id is required")
	}

	identityClause, identityArg := identityPredicate(identity)
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE discussion_id = ? AND left_at IS NULL AND `+identityClause,
		discussionID,
		identityArg,
	)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return participant.Participant{}, storage.ErrNotFound
		}
		return participant.Participant{}, fmt.Errorf("find active participant: %w", err)
	}
	return p, nil
}

// ListActiveParticipants returns the current roster, oldest admission first.
func (s *Store) ListActiveParticipants(ctx context.Context, discussionID string) ([]participant.Participant, error) {
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
		`SELECT `+participantColumns+` FROM participants
		 WHERE discussion_id = ? AND left_at IS NULL
		 ORDER BY joined_at ASC, id ASC`,
		discussionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active participants: %w", err)
	}
	defer rows.Close()

	var participants []participant.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("list active participants: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active participants: %w", err)
	}
	return participants, nil
}

// CountActiveParticipants returns the current capacity occupancy.
func (s *Store) CountActiveParticipants(ctx context.Context, discussionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return 0, fmt.Errorf("discussion id is required")
	}

	var count int
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM participants
		 WHERE discussion_id = ? AND left_at IS NULL`,
		discussionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active participants: %w", err)
	}
	return count, nil
}

// UpdateParticipant persists mutable participant fields.
func (s *Store) UpdateParticipant(ctx context.Context, p participant.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("participant id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE participants SET
		   display_name = ?,
		   role = ?,
		   left_at = ?,
		   last_seen_at = ?,
		   message_count = ?
		 WHERE id = ?`,
		p.DisplayName,
		participant.RoleLabel(p.Role),
		toNullMillis(p.LeftAt),
		toMillis(p.LastSeenAt),
		p.MessageCount,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AdjustMessageCount applies delta to a participant's message counter,
// floored at zero.
func (s *Store) AdjustMessageCount(ctx context.Context, participantID string, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return fmt.Errorf("participant id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE participants
		 SET message_count = MAX(0, message_count + ?)
		 WHERE id = ?`,
		delta,
		participantID,
	)
	if err != nil {
		return fmt.Errorf("adjust message count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust message count: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanParticipant(row rowScanner) (participant.Participant, error) {
	var (
		p          participant.Participant
		userID     sql.NullString
		sessionID  sql.NullString
		roleLabel  string
		joinedAt   int64
		leftAt     sql.NullInt64
		lastSeenAt int64
	)
	if err := row.Scan(
		&p.ID,
		&p.DiscussionID,
		&userID,
		&sessionID,
		&p.DisplayName,
		&roleLabel,
		&joinedAt,
		&leftAt,
		&lastSeenAt,
		&p.MessageCount,
	); err != nil {
		return participant.Participant{}, err
	}
	p.Identity = participant.Identity{UserID: userID.String, SessionID: sessionID.String}
	role, err := participant.RoleFromLabel(roleLabel)
	if err != nil {
		return participant.Participant{}, fmt.Errorf("parse role %q: %w", roleLabel, err)
	}
	p.Role = role
	p.JoinedAt = fromMillis(joinedAt)
	p.LeftAt = fromNullMillis(leftAt)
	p.LastSeenAt = fromMillis(lastSeenAt)
	return p, nil
}
