package driven

import (
	"context"
	"time"
)

// DistributedLock guards work that must run on one instance at a time: the
// scheduler scan ("scheduler") and each subscription's poll ("poll:<id>").
type DistributedLock interface {
	// Acquire takes the named lock for ttl. It reports false, without error,
	// when another instance holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops the lock. Releasing a lock that is not held is a no-op.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a held lock to ttl from now. Long polls call it
	// periodically so the lock outlives the cycle. Backends without expiry
	// (PostgreSQL advisory locks) treat it as a check that the lock is still held.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
