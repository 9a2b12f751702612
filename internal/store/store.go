package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"anonrelay/internal/models"
	"anonrelay/internal/passphrase"
)

// ErrNotFound covers unknown sessions and unknown or expired passphrases alike.
var ErrNotFound = errors.New("session not found")

// ErrSessionFull means the responder slot belongs to another user.
var ErrSessionFull = errors.New("session already has a responder")

// Store is the durable home of sessions and messages.
type Store struct {
	db          *sqlx.DB
	passphrases *passphrase.Generator
	now         func() time.Time
}

// New wraps an opened database. driver is the database/sql driver name.
func New(db *sql.DB, driver string) *Store {
	s := &Store{
		db:  sqlx.NewDb(db, driver),
		now: func() time.Time { return time.Now().UTC() },
	}
	s.passphrases = passphrase.NewGenerator(s)
	return s
}

// PassphraseInUse reports whether an active session already holds hash.
func (s *Store) PassphraseInUse(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE passphrase_hash = ? AND is_active = 1)`,
		hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup passphrase: %w", err)
	}
	return exists, nil
}

// CreateSession persists a new active session and returns it with the
// plaintext passphrase. The passphrase itself is never stored.
func (s *Store) CreateSession(ctx context.Context, creatorID int64) (*models.Session, string, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, "", err
	}
	phrase, err := s.passphrases.Generate(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("generate passphrase: %w", err)
	}
	now := s.now()
	session := &models.Session{
		ID:             id,
		PassphraseHash: passphrase.Hash(phrase),
		CreatorID:      creatorID,
		CreatedAt:      now,
		LastActivity:   now,
		IsActive:       true,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, passphrase_hash, creator_id, created_at, last_activity, is_active) VALUES (?, ?, ?, ?, ?, 1)`,
		session.ID, session.PassphraseHash, session.CreatorID, session.CreatedAt, session.LastActivity,
	)
	if err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	return session, phrase, nil
}

// JoinSession resolves an active session by passphrase for userID and
// returns it with its full history, read in the same transaction. The first
// non-creator to join becomes the responder. Anyone else gets ErrSessionFull
// and the session is left untouched.
func (s *Store) JoinSession(ctx context.Context, phrase string, userID int64) (*models.Session, []models.Message, error) {
	hash := passphrase.Hash(phrase)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var slot struct {
		ID          string        `db:"id"`
		CreatorID   int64         `db:"creator_id"`
		ResponderID sql.NullInt64 `db:"responder_id"`
	}
	err = tx.GetContext(ctx, &slot,
		`SELECT id, creator_id, responder_id FROM sessions WHERE passphrase_hash = ? AND is_active = 1 LIMIT 1`, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("lookup session: %w", err)
	}
	if userID != slot.CreatorID && slot.ResponderID.Valid && slot.ResponderID.Int64 != userID {
		return nil, nil, ErrSessionFull
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ?,
			responder_id = CASE WHEN responder_id IS NULL AND creator_id <> ? THEN ? ELSE responder_id END
		WHERE id = ?`,
		s.now(), userID, userID, slot.ID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("touch session: %w", err)
	}
	session, err := getSession(ctx, tx, slot.ID)
	if err != nil {
		return nil, nil, err
	}
	var messages []models.Message
	err = tx.SelectContext(ctx, &messages,
		`SELECT id, session_id, sender_role, text, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		slot.ID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit join: %w", err)
	}
	return session, messages, nil
}

// GetSession returns one session whether active or not.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return getSession(ctx, s.db, sessionID)
}

func getSession(ctx context.Context, q sqlx.QueryerContext, sessionID string) (*models.Session, error) {
	var session models.Session
	err := sqlx.GetContext(ctx, q, &session,
		`SELECT id, passphrase_hash, creator_id, responder_id, created_at, last_activity, is_active
		FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// UserActiveSessions lists active sessions the user created or answered,
// most recently active first.
func (s *Store) UserActiveSessions(ctx context.Context, userID int64) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM sessions
		WHERE is_active = 1 AND (creator_id = ? OR responder_id = ?)
		ORDER BY last_activity DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	return ids, nil
}

// ActiveSessions returns every active session row.
func (s *Store) ActiveSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT id, passphrase_hash, creator_id, responder_id, created_at, last_activity, is_active
		FROM sessions WHERE is_active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// ActiveSessionIDs returns the ids of every active session.
func (s *Store) ActiveSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM sessions WHERE is_active = 1`); err != nil {
		return nil, fmt.Errorf("list active session ids: %w", err)
	}
	return ids, nil
}

// CloseSession marks the session inactive. Closing twice is harmless.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
