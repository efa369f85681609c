package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"monay-hq/authz/pkg/policy/model"
)

// DefaultRedisPrefix namespaces spend limit keys.
const DefaultRedisPrefix = "authz:limits"

// RedisBackend implements Backend on Redis. Each state is a JSON document at
// <prefix>:<scope>:<entity>, so several engine instances share usage.
type RedisBackend struct {
	client     *redis.Client
	prefix     string
	ownsClient bool
}

// RedisBackendConfig configures a Redis backend that owns its client.
type RedisBackendConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key. Default: authz:limits
	Prefix string

	// DialTimeout bounds connection setup. Default: 5 seconds
	DialTimeout time.Duration
}

// NewRedisBackend wraps an existing client. The client is not closed by Close.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// NewRedisBackendWithConfig dials Redis and verifies the connection.
func NewRedisBackendWithConfig(ctx context.Context, cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	b := NewRedisBackend(client, cfg.Prefix)
	b.ownsClient = true
	return b, nil
}

func (r *RedisBackend) key(entityID string, scope model.LimitScope) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, scope, entityID)
}

// redisState is the stored JSON document. Amounts are strings.
type redisState struct {
	EntityID     string `json:"entityId"`
	Scope        string `json:"scope"`
	Limit        string `json:"limit"`
	CurrentUsage string `json:"currentUsage"`
	WindowStart  int64  `json:"windowStart"`
	Location     string `json:"location,omitempty"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func encodeRedisState(s *model.SpendLimitState) ([]byte, error) {
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return json.Marshal(redisState{
		EntityID:     s.EntityID,
		Scope:        string(s.Scope),
		Limit:        s.Limit.String(),
		CurrentUsage: s.CurrentUsage.String(),
		WindowStart:  s.WindowStart.UnixNano(),
		Location:     s.Location,
		UpdatedAt:    updated.UnixNano(),
	})
}

func decodeRedisState(data []byte) (*model.SpendLimitState, error) {
	var rs redisState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	limit, err := model.ParseAmount(rs.Limit)
	if err != nil {
		return nil, err
	}
	usage, err := model.ParseAmount(rs.CurrentUsage)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if rs.Location != "" {
		if l, err := time.LoadLocation(rs.Location); err == nil {
			loc = l
		}
	}
	return &model.SpendLimitState{
		EntityID:     rs.EntityID,
		Scope:        model.LimitScope(rs.Scope),
		Limit:        limit,
		CurrentUsage: usage,
		WindowStart:  time.Unix(0, rs.WindowStart).In(loc),
		Location:     rs.Location,
		UpdatedAt:    time.Unix(0, rs.UpdatedAt),
	}, nil
}

// Save writes the state document.
func (r *RedisBackend) Save(ctx context.Context, state *model.SpendLimitState) error {
	if err := checkState(state); err != nil {
		return err
	}
	data, err := encodeRedisState(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(state.EntityID, state.Scope), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load reads the state document, or nil.
func (r *RedisBackend) Load(ctx context.Context, entityID string, scope model.LimitScope) (*model.SpendLimitState, error) {
	if err := checkKey(entityID, scope); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.key(entityID, scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	state, err := decodeRedisState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return state, nil
}

// Delete removes the state document.
func (r *RedisBackend) Delete(ctx context.Context, entityID string, scope model.LimitScope) error {
	if err := checkKey(entityID, scope); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(entityID, scope)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List scans every key of a scope.
func (r *RedisBackend) List(ctx context.Context, scope model.LimitScope) ([]*model.SpendLimitState, error) {
	pattern := fmt.Sprintf("%s:%s:*", r.prefix, scope)
	states := make([]*model.SpendLimitState, 0)

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		state, err := decodeRedisState(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", strings.TrimPrefix(key, r.prefix+":"), err)
		}
		states = append(states, state)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })
	return states, nil
}

// Close closes the client when the backend created it.
func (r *RedisBackend) Close() error {
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}
