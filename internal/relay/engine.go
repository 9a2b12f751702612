package relay

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"anonrelay/internal/config"
	"anonrelay/internal/membership"
	"anonrelay/internal/models"
	"anonrelay/internal/notify"
	"anonrelay/internal/passphrase"
	"anonrelay/internal/store"
)

const (
	JoinNotice        = "New participant joined the chat!"
	CloseNotice       = "This chat has been closed by administrator."
	BroadcastPrefix   = "Announcement from admin:\n\n"
	defaultRetention  = config.DefaultRetentionHours * time.Hour
	defaultMaxLength  = config.DefaultMaxMessageLength
	defaultMaxPerUser = config.DefaultMaxSessionsPerUser
)

// Deliverer fans notifications out. notify.Dispatcher is the production one.
type Deliverer interface {
	Deliver(ctx context.Context, deliveries []notify.Delivery) notify.Report
}

// Engine owns the session lifecycle: it validates inbound requests against
// the membership index, writes through to the store and notifies peers.
type Engine struct {
	store     *store.Store
	index     *membership.Index
	deliverer Deliverer
	syncer    *membership.Syncer
	logger    *slog.Logger

	admins         map[int64]struct{}
	maxLength      int
	maxPerUser     int
	retention      time.Duration
	purgeAfter     time.Duration
	historyPreview int
}

// NewEngine wires the engine. Zero limits in cfg fall back to the defaults.
func NewEngine(cfg config.BasicConfig, st *store.Store, index *membership.Index, deliverer Deliverer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:          st,
		index:          index,
		deliverer:      deliverer,
		logger:         logger.With("component", "relay"),
		admins:         make(map[int64]struct{}, len(cfg.AdminIDs)),
		maxLength:      cfg.MaxMessageLength,
		maxPerUser:     cfg.MaxSessionsPerUser,
		retention:      cfg.Retention(),
		purgeAfter:     cfg.PurgeAfter(),
		historyPreview: cfg.HistoryPreview,
	}
	for _, id := range cfg.AdminIDs {
		e.admins[id] = struct{}{}
	}
	if e.maxLength <= 0 {
		e.maxLength = defaultMaxLength
	}
	if e.maxPerUser <= 0 {
		e.maxPerUser = defaultMaxPerUser
	}
	if e.retention <= 0 {
		e.retention = defaultRetention
	}
	return e
}

// SetSyncer enables cross-instance unbind propagation.
func (e *Engine) SetSyncer(s *membership.Syncer) {
	e.syncer = s
}

// Index exposes the membership index the engine routes with.
func (e *Engine) Index() *membership.Index {
	return e.index
}

// ChatCreated carries the only copy of the plaintext passphrase.
type ChatCreated struct {
	SessionID  string `json:"session_id"`
	Passphrase string `json:"passphrase"`
}

// DisplayMessage is a stored message seen from one participant's side.
type DisplayMessage struct {
	Text      string      `json:"text"`
	Role      models.Role `json:"sender_role"`
	Mine      bool        `json:"mine"`
	Timestamp time.Time   `json:"timestamp"`
}

type ChatJoined struct {
	SessionID string           `json:"session_id"`
	Role      models.Role      `json:"role"`
	History   []DisplayMessage `json:"history"`
}

type ChatEntered struct {
	SessionID string           `json:"session_id"`
	Role      models.Role      `json:"role"`
	History   []DisplayMessage `json:"history"`
}

type MessageSent struct {
	SessionID string        `json:"session_id"`
	MessageID int64         `json:"message_id"`
	Role      models.Role   `json:"sender_role"`
	Delivery  notify.Report `json:"delivery"`
}

type MySessions struct {
	Current  string   `json:"current,omitempty"`
	Sessions []string `json:"sessions"`
}

type SessionClosed struct {
	SessionID string        `json:"session_id"`
	Notified  notify.Report `json:"notified"`
}

type SweepResult struct {
	Expired int `json:"expired"`
	Unbound int `json:"unbound"`
	Purged  int `json:"purged"`
}

type BroadcastResult struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// CreateChat opens a new session for userID unless they already hold the
// maximum number of active sessions.
func (e *Engine) CreateChat(ctx context.Context, userID int64) (*ChatCreated, error) {
	active, err := e.store.UserActiveSessions(ctx, userID)
	if err != nil {
		return nil, storageErr("list user sessions", err)
	}
	if len(active) >= e.maxPerUser {
		return nil, ErrLimitExceeded
	}
	session, phrase, err := e.store.CreateSession(ctx, userID)
	if err != nil {
		return nil, storageErr("create session", err)
	}
	if err := e.index.Bind(userID, session.ID); err != nil {
		return nil, err
	}
	e.logger.Info("session created", "session_id", session.ID, "user_id", userID)
	return &ChatCreated{SessionID: session.ID, Passphrase: phrase}, nil
}

// JoinChat attaches userID to the session unlocked by input and returns its
// full history. The creator may re-join their own session.
func (e *Engine) JoinChat(ctx context.Context, userID int64, input string) (*ChatJoined, error) {
	phrase := passphrase.Normalize(input)
	if !passphrase.ValidFormat(phrase) {
		return nil, ErrInvalidPassphrase
	}
	session, messages, err := e.store.JoinSession(ctx, phrase, userID)
	if err != nil {
		if errors.Is(err, store.ErrSessionFull) {
			return nil, ErrSessionFull
		}
		return nil, storageErr("join session", err)
	}

	alreadyBound := e.index.IsBound(userID, session.ID)
	if err := e.index.Bind(userID, session.ID); err != nil {
		return nil, err
	}
	role := session.RoleOf(userID)

	if !alreadyBound {
		report := e.deliverer.Deliver(ctx, e.peerDeliveries(session.ID, userID, JoinNotice))
		e.logger.Info("session joined", "session_id", session.ID, "user_id", userID,
			"notified", report.Sent, "failed", report.Failed)
	}
	return &ChatJoined{SessionID: session.ID, Role: role, History: display(messages, role)}, nil
}

// SendMessage stores text in the sender's current session and relays it to
// the other participant. Delivery failures are counted, never returned.
func (e *Engine) SendMessage(ctx context.Context, userID int64, text string) (*MessageSent, error) {
	sessionID, ok := e.index.SessionOf(userID)
	if !ok {
		return nil, ErrNotInSession
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > e.maxLength {
		return nil, ErrMessageTooLong
	}

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.unbind(ctx, sessionID)
			return nil, ErrNotInSession
		}
		return nil, storageErr("load session", err)
	}
	if !session.IsActive {
		// Closed elsewhere before the index caught up.
		e.unbind(ctx, sessionID)
		return nil, ErrNotInSession
	}

	role := session.RoleOf(userID)
	msg, err := e.store.AddMessage(ctx, sessionID, role, text)
	if err != nil {
		return nil, storageErr("add message", err)
	}
	report := e.deliverer.Deliver(ctx, e.peerDeliveries(sessionID, userID, text))
	if report.Failed > 0 {
		e.logger.Warn("message relay incomplete", "session_id", sessionID, "failed", report.Failed)
	}
	return &MessageSent{SessionID: sessionID, MessageID: msg.ID, Role: role, Delivery: report}, nil
}

// EnterChat switches userID's current session to one they already take part
// in and returns the most recent history.
func (e *Engine) EnterChat(ctx context.Context, userID int64, sessionID string) (*ChatEntered, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storageErr("load session", err)
	}
	if !session.IsActive || !session.IsParticipant(userID) {
		return nil, ErrNotFound
	}
	if err := e.index.Bind(userID, sessionID); err != nil {
		return nil, err
	}
	messages, err := e.store.RecentMessages(ctx, sessionID, e.historyPreview)
	if err != nil {
		return nil, storageErr("load history", err)
	}
	role := session.RoleOf(userID)
	return &ChatEntered{SessionID: sessionID, Role: role, History: display(messages, role)}, nil
}

// ListMySessions returns the user's active sessions, most recent first.
func (e *Engine) ListMySessions(ctx context.Context, userID int64) (*MySessions, error) {
	ids, err := e.store.UserActiveSessions(ctx, userID)
	if err != nil {
		return nil, storageErr("list user sessions", err)
	}
	if ids == nil {
		ids = []string{}
	}
	current, _ := e.index.SessionOf(userID)
	return &MySessions{Current: current, Sessions: ids}, nil
}

// CloseSession deactivates the session, drops its routing entries and tells
// every former participant.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) (*SessionClosed, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storageErr("load session", err)
	}
	if err := e.store.CloseSession(ctx, sessionID); err != nil {
		return nil, storageErr("close session", err)
	}
	bound := e.unbind(ctx, sessionID)

	recipients := unionIDs(bound, []int64{session.CreatorID})
	if session.ResponderID != nil {
		recipients = unionIDs(recipients, []int64{*session.ResponderID})
	}
	deliveries := make([]notify.Delivery, 0, len(recipients))
	for _, u := range recipients {
		deliveries = append(deliveries, notify.Delivery{UserID: u, Text: CloseNotice})
	}
	report := e.deliverer.Deliver(ctx, deliveries)
	e.logger.Info("session closed", "session_id", sessionID, "notified", report.Sent, "failed", report.Failed)
	return &SessionClosed{SessionID: sessionID, Notified: report}, nil
}

// RunExpirySweep deactivates idle sessions, then unbinds indexed sessions the
// store no longer reports active. Each step holds only its own lock.
func (e *Engine) RunExpirySweep(ctx context.Context) (*SweepResult, error) {
	expired, err := e.store.SweepExpired(ctx, e.retention)
	if err != nil {
		return nil, storageErr("sweep sessions", err)
	}
	// Sessions bound after this snapshot are newer than the store read below
	// and must not be judged by it.
	indexed := e.index.SessionIDs()
	active, err := e.store.ActiveSessionIDs(ctx)
	if err != nil {
		return nil, storageErr("list active sessions", err)
	}
	dropped := e.index.UnbindMissing(indexed, active)
	for _, id := range dropped {
		e.syncer.Publish(ctx, id)
	}
	purged, err := e.store.PurgeInactive(ctx, e.purgeAfter)
	if err != nil {
		return nil, storageErr("purge sessions", err)
	}
	result := &SweepResult{Expired: expired, Unbound: len(dropped), Purged: purged}
	e.logger.Info("expiry sweep finished", "expired", expired, "unbound", len(dropped), "purged", purged)
	return result, nil
}

// Rebuild repopulates the index from the store's active sessions. Creators
// are bound before responders.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	sessions, err := e.store.ActiveSessions(ctx)
	if err != nil {
		return 0, storageErr("list active sessions", err)
	}
	bindings := make([]membership.Binding, 0, 2*len(sessions))
	for _, s := range sessions {
		bindings = append(bindings, membership.Binding{SessionID: s.ID, UserID: s.CreatorID})
		if s.ResponderID != nil {
			bindings = append(bindings, membership.Binding{SessionID: s.ID, UserID: *s.ResponderID})
		}
	}
	skipped := e.index.Rebuild(bindings)
	if skipped > 0 {
		e.logger.Warn("membership rebuild skipped bindings", "skipped", skipped)
	}
	e.logger.Info("membership rebuilt from store", "sessions", len(sessions), "bindings", len(bindings)-skipped)
	return len(bindings) - skipped, nil
}

func (e *Engine) unbind(ctx context.Context, sessionID string) []int64 {
	participants := e.index.Unbind(sessionID)
	e.syncer.Publish(ctx, sessionID)
	return participants
}

// peerDeliveries addresses text to everyone bound to sessionID except sender.
func (e *Engine) peerDeliveries(sessionID string, sender int64, text string) []notify.Delivery {
	var out []notify.Delivery
	for _, u := range e.index.ParticipantsOf(sessionID) {
		if u == sender {
			continue
		}
		out = append(out, notify.Delivery{UserID: u, Text: text})
	}
	return out
}

func display(messages []models.Message, viewer models.Role) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, DisplayMessage{
			Text:      m.Text,
			Role:      m.Role,
			Mine:      m.Role == viewer,
			Timestamp: m.CreatedAt,
		})
	}
	return out
}

func unionIDs(a, b []int64) []int64 {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
