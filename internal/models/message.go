package models

import "time"

// Role is the sender role stored with a message instead of the raw identity.
type Role string

const (
	RoleCreator   Role = "creator"
	RoleResponder Role = "responder"
)

func (r Role) Valid() bool {
	return r == RoleCreator || r == RoleResponder
}

type Message struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Role      Role      `json:"sender_role" db:"sender_role"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
}
