package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

// DefaultNamespace prefixes every key written by the redis adapters.
const DefaultNamespace = "sercha-poller"

// ErrNotHeld is returned by Extend when the lock expired or belongs to another instance.
var ErrNotHeld = errors.New("lock not held by this instance")

// ownedScript acts on KEYS[1] only while it still stores this instance's owner
// id (ARGV[1]). ARGV[2] is a TTL in milliseconds; "0" deletes the key instead.
var ownedScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if ARGV[2] == "0" then
	return redis.call("DEL", KEYS[1])
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)

// Lock is a DistributedLock stored as "<namespace>:lock:<name>" keys set with
// SET NX PX. The value is the owner id of the holding process.
type Lock struct {
	client  redis.UniversalClient
	prefix  string
	ownerID string
}

// NewLock returns a lock client with a fresh owner id. An empty namespace
// selects DefaultNamespace.
func NewLock(client redis.UniversalClient, namespace string) *Lock {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Lock{
		client:  client,
		prefix:  namespace + ":lock:",
		ownerID: host + "/" + uuid.NewString(),
	}
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

// OwnerID is the value this instance writes into the locks it holds.
func (l *Lock) OwnerID() string {
	return l.ownerID
}

// Acquire reports false, without error, when another owner holds name.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release is a no-op for locks that expired or changed hands.
func (l *Lock) Release(ctx context.Context, name string) error {
	if _, err := l.runOwned(ctx, name, 0); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if ttl < time.Millisecond {
		return fmt.Errorf("extend lock %s: ttl %v below 1ms", name, ttl)
	}
	n, err := l.runOwned(ctx, name, ttl)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", name, ErrNotHeld)
	}
	return nil
}

func (l *Lock) runOwned(ctx context.Context, name string, ttl time.Duration) (int64, error) {
	n, err := ownedScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID, ttl.Milliseconds()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
