package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/redis/go-redis/v9"
)

// RedisMirror mirrors this node's presence into a Redis hash
// livechat:presence:{nodeID} mapping user ID to connection count.
// The hash expires unless refreshed, so a crashed node's users drop out.
type RedisMirror struct {
	client *redis.Client
	nodeID string
	ttl    time.Duration
}

// NewRedisMirror creates a mirror for nodeID
func NewRedisMirror(client *redis.Client, nodeID string) *RedisMirror {
	return &RedisMirror{
		client: client,
		nodeID: nodeID,
		ttl:    constants.RedisPresenceTTL,
	}
}

// NewRedisClient creates the go-redis client used by the mirror
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	if poolSize <= 0 {
		poolSize = constants.DefaultRedisPoolSize
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

func (m *RedisMirror) key() string {
	return constants.RedisPresenceKeyPrefix + m.nodeID
}

// Sync records userID's connection count; zero removes the user
func (m *RedisMirror) Sync(ctx context.Context, userID string, connections int) error {
	pipe := m.client.TxPipeline()
	if connections > 0 {
		pipe.HSet(ctx, m.key(), userID, connections)
	} else {
		pipe.HDel(ctx, m.key(), userID)
	}
	pipe.Expire(ctx, m.key(), m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync presence for %s: %w", userID, err)
	}
	return nil
}

// Refresh replaces the node's hash with counts and renews its expiry
func (m *RedisMirror) Refresh(ctx context.Context, counts map[string]int) error {
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.key())
	if len(counts) > 0 {
		values := make(map[string]interface{}, len(counts))
		for userID, n := range counts {
			values[userID] = n
		}
		pipe.HSet(ctx, m.key(), values)
		pipe.Expire(ctx, m.key(), m.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// OnlineUsers returns the users present on any node, sorted
func (m *RedisMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	iter := m.client.Scan(ctx, 0, constants.RedisPresenceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fields, err := m.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		for userID, count := range fields {
			if n, err := strconv.Atoi(count); err == nil && n > 0 {
				seen[userID] = struct{}{}
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan presence keys: %w", err)
	}

	users := make([]string, 0, len(seen))
	for userID := range seen {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

// Clear removes this node's mirrored presence
func (m *RedisMirror) Clear(ctx context.Context) error {
	return m.client.Del(ctx, m.key()).Err()
}

// Ping checks the Redis connection
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
