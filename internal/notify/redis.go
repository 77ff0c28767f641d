package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the slice of the go-redis client RedisNotifier needs.
// Satisfied by *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier mirrors events onto a Redis pub/sub channel so other
// processes (a second desk instance, a kitchen display) can react.
type RedisNotifier struct {
	client   Publisher
	channel  string
	recorder PublishRecorder
}

func NewRedisNotifier(client Publisher, channel string, recorder PublishRecorder) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, recorder: recorder}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	if n.recorder != nil {
		n.recorder.EventPublished(ev.Type, "redis")
	}
	return nil
}

// NewRedisClient connects and pings. The caller owns Close.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
