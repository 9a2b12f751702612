package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"anonrelay/internal/models"
)

// AddMessage appends a message and refreshes the session's activity. The
// active flag is not re-checked here; callers validate membership first.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role models.Role, text string) (*models.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid sender role %q", role)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	// Keep timestamps non-decreasing within the session even if the clock steps back.
	now := s.now()
	var last time.Time
	err = tx.GetContext(ctx, &last,
		`SELECT created_at FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	switch {
	case err == nil:
		if last.After(now) {
			now = last
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("last message: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, sender_role, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, text, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return &models.Message{ID: id, SessionID: sessionID, Role: role, Text: text, CreatedAt: now}, nil
}

// GetMessages returns the full history in insertion order. There is no
// pagination; transports chunk the result themselves.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.SelectContext(ctx, &messages,
		`SELECT id, session_id, sender_role, text, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// RecentMessages returns the last limit messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return s.GetMessages(ctx, sessionID)
	}
	var messages []models.Message
	err := s.db.SelectContext(ctx, &messages,
		`SELECT id, session_id, sender_role, text, created_at FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MessageCount counts the messages stored for one session.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
