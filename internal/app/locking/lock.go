package locking

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker provides cluster-wide mutual exclusion with a bounded hold time.
// Acquire returns acquired=false without error when another holder owns the
// key. The TTL is the abandonment mechanism: a holder that never releases
// stops blocking others once the TTL expires.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
}

// RedisLocker implements Locker with SET NX + TTL. Each acquisition stores a
// unique owner token so release cannot drop a lock that has since expired and
// been re-acquired elsewhere.
type RedisLocker struct {
	client *redis.Client
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker wraps an existing redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		// Best-effort: only delete the key while we still own it.
		current, err := l.client.Get(ctx, key).Result()
		if err != nil || current != token {
			return
		}
		_ = l.client.Del(ctx, key).Err()
	}
	return release, true, nil
}

// MemoryLocker is a process-local Locker for tests and single-node
// deployments. Like RedisLocker it tracks an owner token per hold, so a
// release after TTL expiry cannot drop a lock another caller re-acquired.
type MemoryLocker struct {
	mu    sync.Mutex
	holds map[string]memoryHold
}

type memoryHold struct {
	token  string
	expiry time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: make(map[string]memoryHold)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if hold, held := l.holds[key]; held && now.Before(hold.expiry) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.holds[key] = memoryHold{token: token, expiry: now.Add(ttl)}

	release := func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if hold, held := l.holds[key]; held && hold.token == token {
			delete(l.holds, key)
		}
	}
	return release, true, nil
}
