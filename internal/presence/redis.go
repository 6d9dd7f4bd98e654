package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decrements the connection count and removes the field once it reaches zero.
// Returns the remaining count, or -1 when the participant was not online.
var markOfflineScript = redis.NewScript(`
local count = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if count <= 0 then
  redis.call("HDEL", KEYS[1], ARGV[1])
  if count < 0 then
    return -1
  end
end
return count
`)

// RedisTracker keeps presence in Redis so it outlives a restart of the process
// that serves the session. Each session is one hash whose fields are
// participant ids and whose values are connection counts. Session state and
// event sequencing stay in that one process.
type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisTracker connects to redisURL and verifies the connection.
func NewRedisTracker(redisURL string) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisTrackerWithClient(client), nil
}

func NewRedisTrackerWithClient(client *redis.Client) *RedisTracker {
	return &RedisTracker{
		client: client,
		prefix: "presence:",
		ttl:    24 * time.Hour,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (t *RedisTracker) key(sessionID string) string {
	return t.prefix + sessionID
}

func (t *RedisTracker) MarkOnline(ctx context.Context, sessionID, participantID string) (bool, error) {
	key := t.key(sessionID)
	pipe := t.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, participantID, 1)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("mark online: %w", err)
	}
	return incr.Val() == 1, nil
}

func (t *RedisTracker) MarkOffline(ctx context.Context, sessionID, participantID string) (bool, time.Time, error) {
	seen := t.now()
	remaining, err := markOfflineScript.Run(ctx, t.client, []string{t.key(sessionID)}, participantID).Int64()
	if err != nil {
		return false, seen, fmt.Errorf("mark offline: %w", err)
	}
	return remaining == 0, seen, nil
}

func (t *RedisTracker) OnlineCount(ctx context.Context, sessionID string) (int, error) {
	count, err := t.client.HLen(ctx, t.key(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("online count: %w", err)
	}
	return int(count), nil
}

func (t *RedisTracker) Online(ctx context.Context, sessionID string) ([]string, error) {
	fields, err := t.client.HGetAll(ctx, t.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	items := make([]string, 0, len(fields))
	for participantID, raw := range fields {
		if count, err := strconv.Atoi(raw); err == nil && count > 0 {
			items = append(items, participantID)
		}
	}
	sort.Strings(items)
	return items, nil
}

func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
