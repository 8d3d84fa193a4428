package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notification is the record emitted on every state transition and contention
// outcome. Delivery semantics (ordering, at-least-once) belong to the
// consumer side of the stream, not the core.
type Notification struct {
	Type      string                 `json:"type"`
	WarID     string                 `json:"war_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventNotifier is injected everywhere a component needs to announce a state
// change. Implementations must not block the caller for long; failures are
// the notifier's problem, never the war engine's.
type EventNotifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the process log. Used for local runs
// and as the fallback when no Redis URL is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) {
	log.Printf("[Notify] %s war=%s payload=%v", n.Type, n.WarID, n.Payload)
}

const notifyStream = "guildwar.events"

// RedisNotifier publishes notifications to a Redis stream consumed by the
// gateway's WebSocket fan-out.
type RedisNotifier struct {
	rdb    *redis.Client
	stream string
}

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, stream: notifyStream}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		log.Printf("[Notify] marshal payload for %s: %v", n.Type, err)
		payload = []byte("{}")
	}
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"type":      n.Type,
			"war_id":    n.WarID,
			"payload":   string(payload),
			"timestamp": n.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Err(); err != nil {
		// Notification loss is acceptable; war state is already durable.
		log.Printf("[Notify] publish %s for war %s: %v", n.Type, n.WarID, err)
	}
}
