package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"
)

const (
	// lockRetryDelay is how often a blocked flock acquisition is retried.
	lockRetryDelay = 50 * time.Millisecond

	// maxReaders is the semaphore weight; a writer takes all of it.
	maxReaders = 1 << 20
)

// Locker serializes builders of a location within the process (weighted
// semaphore) and across processes (gofrs/flock lock file). Readers take the
// shared side. Both waits end when the context does.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewLocker creates an empty lock registry.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*semaphore.Weighted)}
}

func (l *Locker) get(path string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.locks[path]
	if !ok {
		sem = semaphore.NewWeighted(maxReaders)
		l.locks[path] = sem
	}
	return sem
}

// Lock acquires the exclusive lock for lockPath.
// The returned function releases it and may be called more than once.
func (l *Locker) Lock(ctx context.Context, lockPath string) (func() error, error) {
	return l.acquire(ctx, lockPath, true)
}

// RLock acquires the shared lock for lockPath.
func (l *Locker) RLock(ctx context.Context, lockPath string) (func() error, error) {
	return l.acquire(ctx, lockPath, false)
}

func (l *Locker) acquire(ctx context.Context, lockPath string, exclusive bool) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	weight := int64(1)
	if exclusive {
		weight = maxReaders
	}
	sem := l.get(lockPath)
	if err := sem.Acquire(ctx, weight); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	release := func() { sem.Release(weight) }

	fileLock := flock.New(lockPath)
	var (
		acquired bool
		err      error
	)
	if exclusive {
		acquired, err = fileLock.TryLockContext(ctx, lockRetryDelay)
	} else {
		acquired, err = fileLock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !acquired {
		release()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}

	var once sync.Once
	var unlockErr error
	return func() error {
		once.Do(func() {
			if err := fileLock.Unlock(); err != nil {
				unlockErr = fmt.Errorf("release lock %s: %w", lockPath, err)
			}
			release()
		})
		return unlockErr
	}, nil
}
