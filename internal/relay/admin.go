package relay

import (
	"context"
	"strings"

	"anonrelay/internal/models"
	"anonrelay/internal/notify"
)

// SessionView is one active session as listed for admins.
type SessionView struct {
	models.SessionSummary
	BoundParticipants int `json:"bound_participants"`
}

// SessionInfo is the admin detail view of one session.
type SessionInfo struct {
	Session      *models.Session `json:"session"`
	MessageCount int             `json:"message_count"`
	Participants []int64         `json:"participants"`
}

// StatsReport joins store counters with the live routing table.
type StatsReport struct {
	models.Stats
	BoundSessions int `json:"bound_sessions"`
	BoundUsers    int `json:"bound_users"`
}

// IsAdmin reports whether userID is in the configured admin set.
func (e *Engine) IsAdmin(userID int64) bool {
	_, ok := e.admins[userID]
	return ok
}

func (e *Engine) requireAdmin(callerID int64, op string) error {
	if e.IsAdmin(callerID) {
		return nil
	}
	e.logger.Warn("forbidden admin attempt", "user_id", callerID, "op", op)
	return ErrForbidden
}

// ListActiveSessions lists active sessions, most recently active first.
func (e *Engine) ListActiveSessions(ctx context.Context, callerID int64) ([]SessionView, error) {
	if err := e.requireAdmin(callerID, "list_sessions"); err != nil {
		return nil, err
	}
	summaries, err := e.store.ActiveSummaries(ctx)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	views := make([]SessionView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, SessionView{
			SessionSummary:    s,
			BoundParticipants: len(e.index.ParticipantsOf(s.ID)),
		})
	}
	return views, nil
}

// SessionDetail returns store fields plus the in-memory participants.
func (e *Engine) SessionDetail(ctx context.Context, callerID int64, sessionID string) (*SessionInfo, error) {
	if err := e.requireAdmin(callerID, "session_detail"); err != nil {
		return nil, err
	}
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storageErr("load session", err)
	}
	count, err := e.store.MessageCount(ctx, sessionID)
	if err != nil {
		return nil, storageErr("count messages", err)
	}
	participants := e.index.ParticipantsOf(sessionID)
	if participants == nil {
		participants = []int64{}
	}
	return &SessionInfo{Session: session, MessageCount: count, Participants: participants}, nil
}

// AdminClose closes a session on behalf of an admin.
func (e *Engine) AdminClose(ctx context.Context, callerID int64, sessionID string) (*SessionClosed, error) {
	if err := e.requireAdmin(callerID, "close_session"); err != nil {
		return nil, err
	}
	return e.CloseSession(ctx, sessionID)
}

// ForceCleanup runs the expiry sweep immediately.
func (e *Engine) ForceCleanup(ctx context.Context, callerID int64) (*SweepResult, error) {
	if err := e.requireAdmin(callerID, "force_cleanup"); err != nil {
		return nil, err
	}
	return e.RunExpirySweep(ctx)
}

// Stats reports store counters and the size of the membership index.
func (e *Engine) Stats(ctx context.Context, callerID int64) (*StatsReport, error) {
	if err := e.requireAdmin(callerID, "stats"); err != nil {
		return nil, err
	}
	st, err := e.store.Stats(ctx, e.retention)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	sessions, users := e.index.Counts()
	return &StatsReport{Stats: *st, BoundSessions: sessions, BoundUsers: users}, nil
}

// Broadcast sends an announcement to every user bound to any session, once
// per user. Individual failures only show up in the counts.
func (e *Engine) Broadcast(ctx context.Context, callerID int64, text string) (*BroadcastResult, error) {
	if err := e.requireAdmin(callerID, "broadcast"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	recipients := e.index.AllParticipants()
	deliveries := make([]notify.Delivery, 0, len(recipients))
	for _, u := range recipients {
		deliveries = append(deliveries, notify.Delivery{UserID: u, Text: BroadcastPrefix + text})
	}
	report := e.deliverer.Deliver(ctx, deliveries)
	e.logger.Info("broadcast finished", "recipients", len(recipients), "sent", report.Sent, "failed", report.Failed)
	return &BroadcastResult{Recipients: len(recipients), Sent: report.Sent, Failed: report.Failed}, nil
}
