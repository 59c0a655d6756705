package reimport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "basenet/pkg/domain-errors"
)

const lockPrefix = "basenet:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes run locks with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire run lock")
	}
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeConflict, "run lock %q is held", key)
	}
	return &redisLease{client: l.client, key: lockPrefix + key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (r *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Int()
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	if n == 0 {
		return dErrors.Newf(dErrors.CodeConflict, "run lock %q expired before release", r.key)
	}
	return nil
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[key]; ok && l.now().Before(until) {
		return nil, dErrors.Newf(dErrors.CodeConflict, "run lock %q is held", key)
	}
	until := l.now().Add(ttl)
	l.held[key] = until
	return &memoryLease{locker: l, key: key, until: until}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	until  time.Time
}

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if until, ok := m.locker.held[m.key]; ok && until.Equal(m.until) {
		delete(m.locker.held, m.key)
	}
	return nil
}
