package lightclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSnapshotNotFound is returned when a store has no snapshot for a chain.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists client snapshots so a restarted process keeps its trust anchors.
type SnapshotStore interface {
	Save(ctx context.Context, s *Snapshot) error
	Load(ctx context.Context, chainID string) (*Snapshot, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore keeps JSON snapshots in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, s *Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ChainID] = raw
	return nil
}

func (m *MemoryStore) Load(_ context.Context, chainID string) (*Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.data[chainID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

func (m *MemoryStore) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data)), nil
}

func (m *MemoryStore) Close() error { return nil }

// RedisStore keeps snapshots in a Redis hash keyed by chain id.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(redisURL, key string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if key == "" {
		key = "spectra:lightclient:snapshots"
	}
	return &RedisStore{client: client, key: key}, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.client.HSet(ctx, r.key, s.ChainID, raw).Err()
}

func (r *RedisStore) Load(ctx context.Context, chainID string) (*Snapshot, error) {
	raw, err := r.client.HGet(ctx, r.key, chainID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
