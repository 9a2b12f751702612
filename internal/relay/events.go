package relay

import (
	"context"
	"fmt"
)

// Event is one inbound request from the chat transport. Each kind carries its
// own typed payload.
type Event interface {
	eventKind() string
}

type CreateRequest struct {
	UserID int64
}

type JoinRequest struct {
	UserID     int64
	Passphrase string
}

type MessageEvent struct {
	UserID int64
	Text   string
}

type ListMySessions struct {
	UserID int64
}

type EnterSession struct {
	UserID    int64
	SessionID string
}

type AdminListSessions struct {
	CallerID int64
}

type AdminSessionDetail struct {
	CallerID  int64
	SessionID string
}

type AdminCloseSession struct {
	CallerID  int64
	SessionID string
}

type AdminBroadcast struct {
	CallerID int64
	Text     string
}

type AdminForceCleanup struct {
	CallerID int64
}

type AdminStats struct {
	CallerID int64
}

func (CreateRequest) eventKind() string      { return "create" }
func (JoinRequest) eventKind() string        { return "join" }
func (MessageEvent) eventKind() string       { return "message" }
func (ListMySessions) eventKind() string     { return "list_mine" }
func (EnterSession) eventKind() string       { return "enter" }
func (AdminListSessions) eventKind() string  { return "admin_list" }
func (AdminSessionDetail) eventKind() string { return "admin_detail" }
func (AdminCloseSession) eventKind() string  { return "admin_close" }
func (AdminBroadcast) eventKind() string     { return "admin_broadcast" }
func (AdminForceCleanup) eventKind() string  { return "admin_cleanup" }
func (AdminStats) eventKind() string         { return "admin_stats" }

// Handle routes an event to the matching operation and returns its result.
func (e *Engine) Handle(ctx context.Context, ev Event) (any, error) {
	e.logger.Debug("handle event", "kind", ev.eventKind())
	switch ev := ev.(type) {
	case CreateRequest:
		return e.CreateChat(ctx, ev.UserID)
	case JoinRequest:
		return e.JoinChat(ctx, ev.UserID, ev.Passphrase)
	case MessageEvent:
		return e.SendMessage(ctx, ev.UserID, ev.Text)
	case ListMySessions:
		return e.ListMySessions(ctx, ev.UserID)
	case EnterSession:
		return e.EnterChat(ctx, ev.UserID, ev.SessionID)
	case AdminListSessions:
		return e.ListActiveSessions(ctx, ev.CallerID)
	case AdminSessionDetail:
		return e.SessionDetail(ctx, ev.CallerID, ev.SessionID)
	case AdminCloseSession:
		return e.AdminClose(ctx, ev.CallerID, ev.SessionID)
	case AdminBroadcast:
		return e.Broadcast(ctx, ev.CallerID, ev.Text)
	case AdminForceCleanup:
		return e.ForceCleanup(ctx, ev.CallerID)
	case AdminStats:
		return e.Stats(ctx, ev.CallerID)
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}
