package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"anonrelay/internal/config"
	"anonrelay/internal/models"
	"anonrelay/internal/passphrase"
	"anonrelay/internal/storage"
)

var ctx = context.Background()

func openTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, "sqlite3"), db
}

func setLastActivity(t *testing.T, db *sql.DB, sessionID string, at time.Time) {
	t.Helper()
	if _, err := db.Exec(`UPDATE sessions SET last_activity = ? WHERE id = ?`, at.UTC(), sessionID); err != nil {
		t.Fatalf("set last activity: %v", err)
	}
}

func TestCreateAndJoinByPassphrase(t *testing.T) {
	s, _ := openTestStore(t)

	session, phrase, err := s.CreateSession(ctx, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(session.ID) != 32 {
		t.Fatalf("expected 128-bit hex id, got %q", session.ID)
	}
	if got := len(strings.Split(phrase, "-")); got != 6 {
		t.Fatalf("expected 6 tokens, got %d in %q", got, phrase)
	}
	if session.PassphraseHash != passphrase.Hash(phrase) {
		t.Fatalf("stored hash does not match passphrase")
	}

	joined, history, err := s.JoinSession(ctx, phrase, 200)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.ID != session.ID {
		t.Fatalf("joined %s, want %s", joined.ID, session.ID)
	}
	if joined.ResponderID == nil || *joined.ResponderID != 200 {
		t.Fatalf("responder not recorded: %+v", joined.ResponderID)
	}
	if len(history) != 0 {
		t.Fatalf("new session has history: %v", history)
	}

	// The recorded responder may come back.
	again, _, err := s.JoinSession(ctx, phrase, 200)
	if err != nil {
		t.Fatalf("responder rejoin: %v", err)
	}
	if *again.ResponderID != 200 {
		t.Fatalf("responder changed: %d", *again.ResponderID)
	}

	// The creator re-joining does not become the responder either.
	other, phrase2, err := s.CreateSession(ctx, 400)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	rejoin, _, err := s.JoinSession(ctx, phrase2, 400)
	if err != nil {
		t.Fatalf("creator rejoin: %v", err)
	}
	if rejoin.ID != other.ID || rejoin.ResponderID != nil {
		t.Fatalf("creator recorded as responder: %+v", rejoin)
	}
}

func TestRejectedJoinLeavesSessionUntouched(t *testing.T) {
	s, db := openTestStore(t)
	session, phrase, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.JoinSession(ctx, phrase, 2); err != nil {
		t.Fatalf("join: %v", err)
	}
	idle := time.Now().UTC().Add(-23 * time.Hour).Truncate(time.Second)
	setLastActivity(t, db, session.ID, idle)

	if _, _, err := s.JoinSession(ctx, phrase, 3); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivity.Equal(idle) {
		t.Fatalf("last activity moved from %s to %s", idle, got.LastActivity)
	}
	if got.ResponderID == nil || *got.ResponderID != 2 {
		t.Fatalf("responder changed: %+v", got.ResponderID)
	}
}

func TestJoinReturnsHistory(t *testing.T) {
	s, _ := openTestStore(t)
	session, phrase, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, text := range []string{"one", "two"} {
		if _, err := s.AddMessage(ctx, session.ID, models.RoleCreator, text); err != nil {
			t.Fatalf("add %q: %v", text, err)
		}
	}
	_, history, err := s.JoinSession(ctx, phrase, 2)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(history) != 2 || history[0].Text != "one" || history[1].Text != "two" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestJoinUnknownOrClosedIsNotFound(t *testing.T) {
	s, _ := openTestStore(t)
	if _, _, err := s.JoinSession(ctx, "amber-wolf-river-atom-fig-harp", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	session, phrase, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := s.JoinSession(ctx, phrase, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for closed session, got %v", err)
	}
}

func TestPassphraseInUseOnlyCountsActive(t *testing.T) {
	s, _ := openTestStore(t)
	session, phrase, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	inUse, err := s.PassphraseInUse(ctx, passphrase.Hash(phrase))
	if err != nil || !inUse {
		t.Fatalf("expected active hash in use, got %v %v", inUse, err)
	}
	if err := s.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	inUse, err = s.PassphraseInUse(ctx, passphrase.Hash(phrase))
	if err != nil || inUse {
		t.Fatalf("closed session should free its hash, got %v %v", inUse, err)
	}
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	s, _ := openTestStore(t)
	session, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sent := []struct {
		role models.Role
		text string
	}{
		{models.RoleCreator, "m1"},
		{models.RoleResponder, "m2"},
		{models.RoleCreator, "m3"},
	}
	for _, m := range sent {
		if _, err := s.AddMessage(ctx, session.ID, m.role, m.text); err != nil {
			t.Fatalf("add %s: %v", m.text, err)
		}
	}

	got, err := s.GetMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != len(sent) {
		t.Fatalf("expected %d messages, got %d", len(sent), len(got))
	}
	for i, m := range sent {
		if got[i].Text != m.text || got[i].Role != m.role {
			t.Fatalf("message %d = %+v, want %s/%s", i, got[i], m.role, m.text)
		}
		if i > 0 && got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("timestamps went backwards at %d", i)
		}
	}

	recent, err := s.RecentMessages(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Text != "m2" || recent[1].Text != "m3" {
		t.Fatalf("unexpected recent messages: %+v", recent)
	}
	count, err := s.MessageCount(ctx, session.ID)
	if err != nil || count != 3 {
		t.Fatalf("message count = %d, %v", count, err)
	}
}

func TestAddMessageTimestampsNeverDecrease(t *testing.T) {
	s, _ := openTestStore(t)
	session, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := s.AddMessage(ctx, session.ID, models.RoleCreator, "first")
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	s.now = func() time.Time { return first.CreatedAt.Add(-time.Hour) }
	second, err := s.AddMessage(ctx, session.ID, models.RoleResponder, "second")
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Fatalf("timestamp decreased: %v < %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestAddMessageUnknownSession(t *testing.T) {
	s, _ := openTestStore(t)
	if _, err := s.AddMessage(ctx, "missing", models.RoleCreator, "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.AddMessage(ctx, "missing", models.Role("admin"), "hi"); err == nil {
		t.Fatalf("expected invalid role error")
	}
}

func TestUserActiveSessionsTracksResponder(t *testing.T) {
	s, _ := openTestStore(t)
	a, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	_, phraseB, err := s.CreateSession(ctx, 2)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	// User 1 answers session b without sending anything yet.
	b, _, err := s.JoinSession(ctx, phraseB, 1)
	if err != nil {
		t.Fatalf("join b: %v", err)
	}

	ids, err := s.UserActiveSessions(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected creator and responder sessions, got %v", ids)
	}

	if err := s.CloseSession(ctx, a.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	ids, err = s.UserActiveSessions(ctx, 1)
	if err != nil {
		t.Fatalf("list after close: %v", err)
	}
	if len(ids) != 1 || ids[0] != b.ID {
		t.Fatalf("expected only %s, got %v", b.ID, ids)
	}

	ids, err = s.UserActiveSessions(ctx, 3)
	if err != nil || len(ids) != 0 {
		t.Fatalf("stranger should have no sessions: %v %v", ids, err)
	}
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t)
	session, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.CloseSession(ctx, session.ID); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
		got, err := s.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.IsActive {
			t.Fatalf("session still active after close %d", i)
		}
	}
	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepExpiredUsesRetentionWindow(t *testing.T) {
	s, db := openTestStore(t)
	stale, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}
	fresh, _, err := s.CreateSession(ctx, 2)
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	now := time.Now().UTC()
	setLastActivity(t, db, stale.ID, now.Add(-25*time.Hour))
	setLastActivity(t, db, fresh.ID, now.Add(-23*time.Hour))

	affected, err := s.SweepExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 swept session, got %d", affected)
	}
	if got, _ := s.GetSession(ctx, stale.ID); got.IsActive {
		t.Fatalf("stale session still active")
	}
	if got, _ := s.GetSession(ctx, fresh.ID); !got.IsActive {
		t.Fatalf("fresh session was swept")
	}

	// Already inactive sessions are not counted again.
	affected, err = s.SweepExpired(ctx, 24*time.Hour)
	if err != nil || affected != 0 {
		t.Fatalf("second sweep = %d, %v", affected, err)
	}

	ids, err := s.ActiveSessionIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != fresh.ID {
		t.Fatalf("active ids = %v, %v", ids, err)
	}
}

func TestPurgeInactiveDeletesMessages(t *testing.T) {
	s, db := openTestStore(t)
	old, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddMessage(ctx, old.ID, models.RoleCreator, "bye"); err != nil {
		t.Fatalf("add: %v", err)
	}
	active, _, err := s.CreateSession(ctx, 2)
	if err != nil {
		t.Fatalf("create active: %v", err)
	}
	if err := s.CloseSession(ctx, old.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	setLastActivity(t, db, old.ID, time.Now().Add(-72*time.Hour))
	setLastActivity(t, db, active.ID, time.Now().Add(-72*time.Hour))

	if n, err := s.PurgeInactive(ctx, 0); err != nil || n != 0 {
		t.Fatalf("disabled purge = %d, %v", n, err)
	}
	n, err := s.PurgeInactive(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged session, got %d", n)
	}
	if _, err := s.GetSession(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged session still present: %v", err)
	}
	var left int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, old.ID).Scan(&left); err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 0 {
		t.Fatalf("messages not purged: %d", left)
	}
	if _, err := s.GetSession(ctx, active.ID); err != nil {
		t.Fatalf("active session must survive purge: %v", err)
	}
}

func TestStatsAndSummaries(t *testing.T) {
	s, db := openTestStore(t)
	a, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, _, err := s.CreateSession(ctx, 2)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	c, _, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create c: %v", err)
	}
	for _, text := range []string{"x", "y", "z"} {
		if _, err := s.AddMessage(ctx, a.ID, models.RoleCreator, text); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := s.AddMessage(ctx, b.ID, models.RoleCreator, "w"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.CloseSession(ctx, c.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	setLastActivity(t, db, b.ID, time.Now().Add(-30*time.Hour))

	st, err := s.Stats(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ActiveSessions != 2 || st.TotalMessages != 4 || st.StaleSessions != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.SessionsToday != 3 || st.MessagesToday != 4 || st.UniqueCreators != 2 {
		t.Fatalf("unexpected daily counters: %+v", st)
	}
	if st.AvgMessagesPerSession != 2 {
		t.Fatalf("avg = %v, want 2", st.AvgMessagesPerSession)
	}

	summaries, err := s.ActiveSummaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	// b was pushed 30h into the past, so a comes first.
	if summaries[0].ID != a.ID || summaries[0].MessageCount != 3 || summaries[1].MessageCount != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}
