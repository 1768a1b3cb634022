// Package presence tracks which collaborators are currently viewing a
// document. Heartbeats land in Redis with a TTL; a collaborator whose tab
// stops polling simply ages out.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultHeartbeatInterval matches the client's polling cadence.
const DefaultHeartbeatInterval = 2 * time.Second

// Member is one live collaborator on a document.
type Member struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserColor string    `json:"userColor"`
	LastSeen  time.Time `json:"lastSeen"`
}

// RedisStore keeps presence heartbeats in Redis.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, interval time.Duration) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client, interval), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, interval time.Duration) *RedisStore {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &RedisStore{
		client:   client,
		prefix:   "presence:",
		interval: interval,
	}
}

func (s *RedisStore) key(documentID, userID string) string {
	return s.prefix + documentID + ":" + userID
}

// Heartbeat records that a user is viewing a document. The entry expires at
// twice the heartbeat interval, so a single missed poll does not flicker the
// user out of the roster.
func (s *RedisStore) Heartbeat(ctx context.Context, documentID string, member Member) error {
	member.LastSeen = time.Now().UTC()
	payload, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := s.client.Set(ctx, s.key(documentID, member.UserID), payload, 2*s.interval).Err(); err != nil {
		return fmt.Errorf("save presence: %w", err)
	}
	return nil
}

// ListActive returns the collaborators whose heartbeat has not expired,
// ordered by user name for a stable roster.
func (s *RedisStore) ListActive(ctx context.Context, documentID string) ([]Member, error) {
	pattern := s.prefix + documentID + ":*"
	members := make([]Member, 0)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		for _, key := range keys {
			payload, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, fmt.Errorf("read presence: %w", err)
			}
			var member Member
			if err := json.Unmarshal([]byte(payload), &member); err != nil {
				continue
			}
			members = append(members, member)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(members, func(i, j int) bool {
		if !strings.EqualFold(members[i].UserName, members[j].UserName) {
			return strings.ToLower(members[i].UserName) < strings.ToLower(members[j].UserName)
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

// Leave drops a user from a document roster immediately.
func (s *RedisStore) Leave(ctx context.Context, documentID, userID string) error {
	if err := s.client.Del(ctx, s.key(documentID, userID)).Err(); err != nil {
		return fmt.Errorf("drop presence: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
