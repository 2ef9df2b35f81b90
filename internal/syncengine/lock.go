package syncengine

import (
	"context"
	"errors"
	"time"

	"mobilemoney/pkg/cache"
)

// ErrSyncInProgress is returned when another sync for the same user is
// already running — the at-most-one-sync-per-user contract.
var ErrSyncInProgress = errors.New("a sync is already in progress for this user")

// lockTTL bounds how long a held lock survives a crashed holder; well
// above any realistic batch-processing time.
const lockTTL = 60 * time.Second

// acquireUserLock takes the per-user advisory lock backed by Redis SetNX,
// an atomic primitive rather than a read-then-write check.
func acquireUserLock(ctx context.Context, userID string) (release func(), err error) {
	key := "sync:lock:" + userID
	acquired, err := cache.SetNX(ctx, key, "1", lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}
	return func() {
		_, _ = cache.Delete(context.Background(), key)
	}, nil
}

// AcquireNamedLock is the same advisory-lock primitive keyed by an
// arbitrary prefix, shared with the conversation-append path.
func AcquireNamedLock(ctx context.Context, prefix, id string, ttl time.Duration) (release func(), err error) {
	key := prefix + ":" + id
	acquired, err := cache.SetNX(ctx, key, "1", ttl)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}
	return func() {
		_, _ = cache.Delete(context.Background(), key)
	}, nil
}

// TryAcquireNamedLock is AcquireNamedLock without the ErrSyncInProgress
// error on contention — for callers like the retention scheduler where
// "someone else already did this" is a normal outcome, not a failure.
func TryAcquireNamedLock(ctx context.Context, prefix, id string, ttl time.Duration) (release func(), acquired bool, err error) {
	key := prefix + ":" + id
	acquired, err = cache.SetNX(ctx, key, "1", ttl)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}
	return func() {
		_, _ = cache.Delete(context.Background(), key)
	}, true, nil
}
