// Package session persists conversation windows between turns. The pipeline
// itself never touches this store; the request handler loads the window
// before a turn and saves the updated copy after.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cwf-platform/shop-assistant/internal/conversation"
)

// ErrNotFound is returned when a conversation has no stored window.
var ErrNotFound = errors.New("session not found")

// Store loads and saves conversation windows keyed by conversation id.
type Store interface {
	Load(ctx context.Context, conversationID string) (conversation.Window, error)
	Save(ctx context.Context, conversationID string, window conversation.Window) error
	Close() error
}

// RedisStore keeps windows in Redis with a per-conversation TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds Redis session store settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func sessionKey(conversationID string) string {
	return "session:window:" + conversationID
}

// Load returns the stored window, or ErrNotFound for a fresh conversation.
func (s *RedisStore) Load(ctx context.Context, conversationID string) (conversation.Window, error) {
	raw, err := s.client.Get(ctx, sessionKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", conversationID, err)
	}

	var window conversation.Window
	if err := json.Unmarshal(raw, &window); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", conversationID, err)
	}
	return window, nil
}

// Save stores the window and refreshes the TTL.
func (s *RedisStore) Save(ctx context.Context, conversationID string, window conversation.Window) error {
	raw, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", conversationID, err)
	}
	if err := s.client.Set(ctx, sessionKey(conversationID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", conversationID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore keeps windows in process memory. Used by the CLI and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]conversation.Window
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]conversation.Window)}
}

// Load returns a copy of the stored window, or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, conversationID string) (conversation.Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window, ok := s.windows[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(conversation.Window, len(window))
	copy(out, window)
	return out, nil
}

// Save stores a copy of the window.
func (s *MemoryStore) Save(_ context.Context, conversationID string, window conversation.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(conversation.Window, len(window))
	copy(stored, window)
	s.windows[conversationID] = stored
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
