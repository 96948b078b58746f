package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier 透過 Redis pub/sub 在多台伺服器之間廣播變更
type RedisNotifier struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: log}
}

func roomChannel(roomID string) string { return "debate:rooms:" + roomID }

func (n *RedisNotifier) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, roomChannel(change.RoomID), data).Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	ps := n.rdb.Subscribe(ctx, roomChannel(roomID))
	// 等待訂閱確認，確保之後發布的變更不會遺漏
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					n.log.Warn("Invalid change on redis channel", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (n *RedisNotifier) Close() error { return n.rdb.Close() }
