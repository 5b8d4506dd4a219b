package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned by Acquire when another holder owns the key.
var ErrLocked = errors.New("lock held by another process")

// ErrLost is returned by Refresh when the lock expired or changed owner.
var ErrLost = errors.New("lock lost")

type Lock interface {
	// Refresh extends the lock by its original TTL.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Nop grants every lock. It is used when no Redis is configured; a single
// process per topic is then the operator's responsibility.
type Nop struct{}

func (Nop) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	return nopLock{}, nil
}

type nopLock struct{}

func (nopLock) Refresh(ctx context.Context) error { return nil }
func (nopLock) Release(ctx context.Context) error { return nil }
