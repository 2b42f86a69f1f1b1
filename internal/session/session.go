package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound 会话不存在或已过期
var ErrNotFound = errors.New("会话不存在")

// Store 会话存储。会话在登录时创建，登出时删除，超过 TTL 自动失效
type Store interface {
	Create(ctx context.Context, token string, userID int64, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (int64, error)
	Delete(ctx context.Context, token string) error
}

// ============================================================
// Redis
// ============================================================

const redisKeyPrefix = "session:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, token string, userID int64, ttl time.Duration) error {
	return s.client.Set(ctx, redisKeyPrefix+token, userID, ttl).Err()
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (int64, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, ErrNotFound
	}
	return userID, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, redisKeyPrefix+token).Err()
}

// ============================================================
// 内存实现，单进程开发与测试使用
// ============================================================

type memoryEntry struct {
	userID    int64
	expiresAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, token string, userID int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[token] = memoryEntry{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return 0, ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, token)
		return 0, ErrNotFound
	}
	return e.userID, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
	return nil
}

// sweepLocked 清理过期会话，调用方持有 mu
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for token, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, token)
		}
	}
}
