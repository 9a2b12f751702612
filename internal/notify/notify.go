package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"anonrelay/internal/redis"
)

// ErrUndelivered means nobody was listening for the notification.
var ErrUndelivered = errors.New("notification not delivered")

// Notifier pushes a text to one user through whatever channel fronts the relay.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Payload is the wire shape shared by the redis and websocket notifiers.
type Payload struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// LogNotifier only records deliveries. It is the default when no gateway is
// configured and never fails.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, userID int64, text string) error {
	n.logger.Info("notify", "user_id", userID, "length", len(text))
	return nil
}

// RedisChannel carries outbound notifications for gateway processes.
const RedisChannel = "relay:notify"

// RedisNotifier publishes notifications for a gateway subscribed to
// RedisChannel. A publish that reaches no subscriber counts as undelivered.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID int64, text string) error {
	payload, err := json.Marshal(Payload{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	receivers, err := n.client.Publish(ctx, RedisChannel, payload)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	if receivers == 0 {
		return ErrUndelivered
	}
	return nil
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID int64, text string) error

func (f NotifierFunc) Notify(ctx context.Context, userID int64, text string) error {
	return f(ctx, userID, text)
}
