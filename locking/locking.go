/*
Package locking serializes work on a single collector.

PURPOSE:
  Many collectors may be processed at once, but one collector's period is
  handled by one worker at a time. Locker hands out an exclusive lock per
  key; KeyedMutex does it in-process, RedisLocker across processes.

USAGE:
  unlock, err := locker.Lock(ctx, "collector:col-1")
  if err != nil {
      return err
  }
  defer unlock()
*/
package locking

import (
	"context"
	"sync"
)

// Locker grants an exclusive lock on key until unlock is called.
// Lock blocks until the lock is free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CollectorKey is the lock key used for a collector's unit of work.
func CollectorKey(collectorID string) string { return "collector:" + collectorID }

// =============================================================================
// KEYED MUTEX - In-process
// =============================================================================

type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
