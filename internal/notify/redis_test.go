package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"anonrelay/internal/config"
	"anonrelay/internal/redis"
)

func TestRedisNotifierPublishes(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	n := NewRedisNotifier(client)
	if err := n.Notify(ctx, 1, "nobody listens"); !errors.Is(err, ErrUndelivered) {
		t.Fatalf("expected ErrUndelivered without subscribers, got %v", err)
	}

	pubsub, err := client.Subscribe(ctx, RedisChannel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer pubsub.Close()

	if err := n.Notify(ctx, 7, "ping"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case msg := <-pubsub.Channel():
		var got Payload
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.UserID != 7 || got.Text != "ping" {
			t.Fatalf("unexpected payload %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("no message received")
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed notifier tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{
		Redis: config.RedisConfig{Host: host, Port: port},
	})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
