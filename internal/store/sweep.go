package store

import (
	"context"
	"fmt"
	"time"

	"anonrelay/internal/models"
)

// SweepExpired deactivates every active session idle for longer than
// retention and returns how many were affected.
func (s *Store) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE is_active = 1 AND last_activity < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	return int(affected), nil
}

// PurgeInactive hard-deletes inactive sessions idle for longer than olderThan
// together with their messages, returning the number of sessions removed.
func (s *Store) PurgeInactive(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN (
			SELECT id FROM sessions WHERE is_active = 0 AND last_activity < ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE is_active = 0 AND last_activity < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return int(affected), nil
}

// Stats aggregates store-wide counters. Values are approximate while writes
// are in flight.
func (s *Store) Stats(ctx context.Context, retention time.Duration) (*models.Stats, error) {
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := now.Add(-retention)

	var st models.Stats
	var activeMessages int
	counters := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&st.ActiveSessions, `SELECT COUNT(*) FROM sessions WHERE is_active = 1`, nil},
		{&st.TotalMessages, `SELECT COUNT(*) FROM messages`, nil},
		{&st.StaleSessions, `SELECT COUNT(*) FROM sessions WHERE is_active = 1 AND last_activity < ?`, []any{cutoff}},
		{&st.SessionsToday, `SELECT COUNT(*) FROM sessions WHERE created_at >= ?`, []any{startOfDay}},
		{&st.MessagesToday, `SELECT COUNT(*) FROM messages WHERE created_at >= ?`, []any{startOfDay}},
		{&st.UniqueCreators, `SELECT COUNT(DISTINCT creator_id) FROM sessions WHERE is_active = 1`, nil},
		{&activeMessages, `SELECT COUNT(*) FROM messages m JOIN sessions s ON s.id = m.session_id WHERE s.is_active = 1`, nil},
	}
	for _, c := range counters {
		if err := s.db.GetContext(ctx, c.dest, c.query, c.args...); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	if st.ActiveSessions > 0 {
		avg := float64(activeMessages) / float64(st.ActiveSessions)
		st.AvgMessagesPerSession = float64(int(avg*100+0.5)) / 100
	}
	return &st, nil
}

// ActiveSummaries lists active sessions with their message counts, most
// recently active first.
func (s *Store) ActiveSummaries(ctx context.Context) ([]models.SessionSummary, error) {
	var out []models.SessionSummary
	err := s.db.SelectContext(ctx, &out,
		`SELECT s.id, s.creator_id, s.created_at, s.last_activity, COUNT(m.id) AS message_count
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.is_active = 1
		GROUP BY s.id, s.creator_id, s.created_at, s.last_activity
		ORDER BY s.last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("list session summaries: %w", err)
	}
	return out, nil
}
