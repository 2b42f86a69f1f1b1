package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 账户锁（行锁之外的一层保护）
// ============================================================================
//
// 交易引擎在打开数据库事务之前，按固定的全局顺序获取涉及账户的锁：
//   消费：卡 -> 持卡用户 -> 终端
//   转账：较小 ID 用户 -> 较大 ID 用户
//   充值码：充值码 -> 用户
//
// MySQL/PostgreSQL 下 SELECT ... FOR UPDATE 已经提供行级互斥，此时使用 Noop；
// SQLite 没有行锁，或多个进程共享一个不支持行锁的存储时，使用 Local / Redis。
// 锁必须在事务开始之前获取，持有事务连接时不再等待任何账户锁。
//
// ============================================================================

// ErrLockTimeout 在等待上限内没有拿到锁，调用方可以重试
var ErrLockTimeout = errors.New("获取账户锁超时")

// Release 释放本次获取的全部锁，可重复调用
type Release func()

// Locker 按 keys 的顺序依次加锁；任何一把失败都会释放已获取的锁
type Locker interface {
	Acquire(ctx context.Context, owner string, keys ...string) (Release, error)
}

func CardKey(uid string) string { return "card:" + uid }
func UserKey(id int64) string { return fmt.Sprintf("user:%d", id) }
func ReaderKey(id int64) string { return fmt.Sprintf("reader:%d", id) }
func CodeKey(code string) string { return "code:" + code }

// dedupe 去掉重复的 key，保留第一次出现的位置
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// ============================================================================
// Noop
// ============================================================================

type noopLocker struct{}

// Noop 完全依赖数据库行锁
func Noop() Locker { return noopLocker{} }

func (noopLocker) Acquire(context.Context, string, ...string) (Release, error) {
	return func() {}, nil
}

// ============================================================================
// Local：进程内按 key 的互斥锁
// ============================================================================

type localEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker 进程内 keyed mutex，等待超过 wait 返回 ErrLockTimeout
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	wait    time.Duration
}

func NewLocal(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		entries: make(map[string]*localEntry),
		wait:    wait,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, _ string, keys ...string) (Release, error) {
	keys = dedupe(keys)

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	held := make([]string, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
		held = held[:0]
	}

	for _, key := range keys {
		if err := l.lock(ctx, key); err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (l *LocalLocker) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		return ctx.Err()
	}
}

func (l *LocalLocker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	<-e.ch
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
