package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu   sync.Mutex
	got  map[int64][]string
	fail map[int64]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{got: make(map[int64][]string), fail: make(map[int64]bool)}
}

func (r *recordingNotifier) Notify(ctx context.Context, userID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[userID] {
		return errors.New("blocked by user")
	}
	r.got[userID] = append(r.got[userID], text)
	return nil
}

func (r *recordingNotifier) texts(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got[userID]...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startDispatcher(t *testing.T, n Notifier, workers int) *Dispatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d := NewDispatcher(n, workers, 16, quietLogger())
	d.Start(ctx)
	return d
}

func TestDeliverKeepsPerRecipientOrder(t *testing.T) {
	rec := newRecordingNotifier()
	d := startDispatcher(t, rec, 4)

	var batch []Delivery
	for i := 0; i < 50; i++ {
		batch = append(batch, Delivery{UserID: 1, Text: fmt.Sprintf("a%d", i)})
		batch = append(batch, Delivery{UserID: 2, Text: fmt.Sprintf("b%d", i)})
	}
	report := d.Deliver(context.Background(), batch)
	if report.Sent != 100 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, user := range []int64{1, 2} {
		got := rec.texts(user)
		if len(got) != 50 {
			t.Fatalf("user %d got %d texts", user, len(got))
		}
		prefix := "a"
		if user == 2 {
			prefix = "b"
		}
		for i, text := range got {
			if text != fmt.Sprintf("%s%d", prefix, i) {
				t.Fatalf("user %d text %d = %s, out of order", user, i, text)
			}
		}
	}
}

func TestDeliverCountsFailures(t *testing.T) {
	rec := newRecordingNotifier()
	rec.fail[2] = true
	d := startDispatcher(t, rec, 2)

	report := d.Deliver(context.Background(), []Delivery{
		{UserID: 1, Text: "hi"},
		{UserID: 2, Text: "hi"},
		{UserID: 3, Text: "hi"},
	})
	if report.Sent != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestDeliverEmptyBatch(t *testing.T) {
	d := startDispatcher(t, newRecordingNotifier(), 1)
	if report := d.Deliver(context.Background(), nil); report != (Report{}) {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestDeliverAfterStopFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(newRecordingNotifier(), 1, 1, quietLogger())
	d.Start(ctx)
	cancel()

	select {
	case <-d.stopped:
	case <-time.After(time.Second):
		t.Fatalf("dispatcher did not stop")
	}
	report := d.Deliver(context.Background(), []Delivery{{UserID: 1, Text: "x"}, {UserID: 2, Text: "y"}})
	if report.Sent != 0 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier(quietLogger())
	if err := n.Notify(context.Background(), 1, "text"); err != nil {
		t.Fatalf("notify: %v", err)
	}
}
