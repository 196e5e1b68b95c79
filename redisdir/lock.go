package redisdir

import (
	"context"

	"github.com/rarydzu/redisdir/metrics"
)

// Locker is an advisory lock handed out by a LockFactory
type Locker interface {
	Obtain(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	IsLocked(ctx context.Context) (bool, error)
	Close() error
}

// LockFactory makes locks for a directory
type LockFactory interface {
	MakeLock(dir *Directory, name string) Locker
}

// CounterLockFactory makes counter locks kept in the metadata hash
type CounterLockFactory struct{}

func (CounterLockFactory) MakeLock(dir *Directory, name string) Locker {
	return dir.CreateLock(name)
}

// Lock is an advisory lock backed by an atomic counter stored under name in
// the metadata hash. The first claimant sees the counter at 1. A failed
// Obtain leaves the counter incremented. Release deletes the counter
// without checking who holds it.
type Lock struct {
	dir  *Directory
	name string
}

// Name returns lock name
func (l *Lock) Name() string {
	return l.name
}

// Obtain tries to take the lock once, it never waits
func (l *Lock) Obtain(ctx context.Context) (bool, error) {
	store, err := l.dir.getStore()
	if err != nil {
		metrics.LockAttempts.WithLabelValues("error").Inc()
		return false, err
	}
	n, err := store.HIncrBy(ctx, l.dir.cfg.MetadataHash, l.name, 1)
	if err != nil {
		metrics.LockAttempts.WithLabelValues("error").Inc()
		return false, err
	}
	if n != 1 {
		metrics.LockAttempts.WithLabelValues("contended").Inc()
		l.dir.log.Debugf("lock(%s) is held, counter %d", l.name, n)
		return false, nil
	}
	metrics.LockAttempts.WithLabelValues("obtained").Inc()
	return true, nil
}

// Release removes the counter
func (l *Lock) Release(ctx context.Context) error {
	store, err := l.dir.getStore()
	if err != nil {
		return err
	}
	return store.HDel(ctx, l.dir.cfg.MetadataHash, l.name)
}

// IsLocked reports whether the counter exists
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	store, err := l.dir.getStore()
	if err != nil {
		return false, err
	}
	return store.HExists(ctx, l.dir.cfg.MetadataHash, l.name)
}

// Close is Release without a caller context
func (l *Lock) Close() error {
	return l.Release(context.Background())
}
