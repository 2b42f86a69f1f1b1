package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（持有者崩溃时自动释放）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
//
// 多进程部署、且存储不提供行锁时，用 RedisLocker 代替 LocalLocker。
//
// ============================================================================

var ErrLockNotHeld = errors.New("锁已过期或不属于当前持有者")

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁，直到成功或 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration) error {
	for {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrLockTimeout, l.key)
			}
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Unlock 释放锁；锁已不属于自己时返回 ErrLockNotHeld
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// ============================================================================
// RedisLocker：多把分布式锁按顺序获取
// ============================================================================

// RedisLocker 以 owner（请求流水号）作为锁的 value
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        "cardpay:lock:",
		ttl:           ttl,
		wait:          wait,
		retryInterval: 20 * time.Millisecond,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, owner string, keys ...string) (Release, error) {
	keys = dedupe(keys)

	waitCtx := ctx
	if r.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.wait)
		defer cancel()
	}

	held := make([]*DistributedLock, 0, len(keys))
	releaseAll := func() {
		// 释放不受调用方 ctx 取消影响
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Unlock(unlockCtx)
		}
		held = held[:0]
	}

	for _, key := range keys {
		l := NewDistributedLock(r.client, r.prefix+key, owner, r.ttl)
		if err := l.Lock(waitCtx, r.retryInterval); err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, l)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
