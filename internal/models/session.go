package models

import "time"

// Session is one anonymous two-party conversation unlocked by a passphrase.
type Session struct {
	ID             string    `json:"id" db:"id"`
	PassphraseHash string    `json:"-" db:"passphrase_hash"`
	CreatorID      int64     `json:"creator_id" db:"creator_id"`
	ResponderID    *int64    `json:"responder_id,omitempty" db:"responder_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastActivity   time.Time `json:"last_activity" db:"last_activity"`
	IsActive       bool      `json:"is_active" db:"is_active"`
}

// RoleOf reports the role userID holds in the session. Anyone who is not the
// creator writes as the responder.
func (s *Session) RoleOf(userID int64) Role {
	if s.CreatorID == userID {
		return RoleCreator
	}
	return RoleResponder
}

// IsParticipant reports whether userID is the creator or the recorded responder.
func (s *Session) IsParticipant(userID int64) bool {
	if s.CreatorID == userID {
		return true
	}
	return s.ResponderID != nil && *s.ResponderID == userID
}

// SessionSummary is an active session joined with its message count.
type SessionSummary struct {
	ID           string    `json:"id" db:"id"`
	CreatorID    int64     `json:"creator_id" db:"creator_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	LastActivity time.Time `json:"last_activity" db:"last_activity"`
	MessageCount int       `json:"message_count" db:"message_count"`
}

// Stats aggregates store-wide counters for the admin view.
type Stats struct {
	ActiveSessions        int     `json:"active_sessions"`
	TotalMessages         int     `json:"total_messages"`
	StaleSessions         int     `json:"stale_sessions"`
	SessionsToday         int     `json:"sessions_today"`
	MessagesToday         int     `json:"messages_today"`
	UniqueCreators        int     `json:"unique_creators"`
	AvgMessagesPerSession float64 `json:"avg_messages_per_session"`
}
