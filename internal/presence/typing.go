// Package presence tracks the short-lived typing state of room members in
// Redis. The state is keyed per room and user with a small TTL, so a client
// that crashes mid-keystroke just ages out.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"messaging-service/internal/models"
)

const typingTTL = 5 * time.Second

// RedisTracker stores typing flags in Redis.
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker connects a tracker to the given Redis address.
func NewRedisTracker(addr string) *RedisTracker {
	return &RedisTracker{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping verifies the Redis connection.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// SetTyping flags the user as typing in the room for a few seconds.
func (t *RedisTracker) SetTyping(ctx context.Context, room models.RoomRef, userID int) error {
	return t.client.Set(ctx, typingKey(room, userID), "1", typingTTL).Err()
}

// ClearTyping drops the flag before it expires.
func (t *RedisTracker) ClearTyping(ctx context.Context, room models.RoomRef, userID int) error {
	return t.client.Del(ctx, typingKey(room, userID)).Err()
}

// IsTyping reports whether the user's typing flag is still live.
func (t *RedisTracker) IsTyping(ctx context.Context, room models.RoomRef, userID int) (bool, error) {
	n, err := t.client.Exists(ctx, typingKey(room, userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func typingKey(room models.RoomRef, userID int) string {
	return fmt.Sprintf("typing:%s:%d", room, userID)
}

// NoopTracker is the fallback when Redis is not configured. Typing events
// still broadcast; only the roster query comes back empty.
type NoopTracker struct{}

func (NoopTracker) SetTyping(context.Context, models.RoomRef, int) error   { return nil }
func (NoopTracker) ClearTyping(context.Context, models.RoomRef, int) error { return nil }
func (NoopTracker) IsTyping(context.Context, models.RoomRef, int) (bool, error) {
	return false, nil
}
