package membership

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"anonrelay/internal/redis"
)

const invalidateChannel = "relay:membership"

type invalidateMessage struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
}

// Syncer fans session unbinds out to other relay instances over redis pubsub
// so a close or sweep on one node drops the routing entries everywhere.
// A nil Syncer is valid and does nothing.
type Syncer struct {
	client *redis.Client
	index  *Index
	origin string
	logger *slog.Logger
}

func NewSyncer(client *redis.Client, index *Index, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		client: client,
		index:  index,
		origin: uuid.NewString(),
		logger: logger.With("component", "membership_sync"),
	}
}

// Start subscribes and applies remote unbinds until ctx is cancelled. The
// subscription is live when Start returns.
func (s *Syncer) Start(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	pubsub, err := s.client.Subscribe(ctx, invalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					s.logger.Warn("decode invalidation failed", "err", err)
					continue
				}
				if inv.Origin == s.origin || inv.SessionID == "" {
					continue
				}
				s.index.Unbind(inv.SessionID)
				s.logger.Debug("applied remote unbind", "session_id", inv.SessionID)
			}
		}
	}()
	return nil
}

// Publish announces that sessionID was unbound locally. Failures are logged
// and otherwise ignored.
func (s *Syncer) Publish(ctx context.Context, sessionID string) {
	if s == nil || s.client == nil {
		return
	}
	payload, err := json.Marshal(invalidateMessage{SessionID: sessionID, Origin: s.origin})
	if err != nil {
		s.logger.Warn("marshal invalidation failed", "err", err)
		return
	}
	if _, err := s.client.Publish(ctx, invalidateChannel, payload); err != nil {
		s.logger.Warn("publish invalidation failed", "session_id", sessionID, "err", err)
	}
}
