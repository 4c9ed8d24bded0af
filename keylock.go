// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import "sync"

// keyLock serializes work per key while letting different keys proceed in
// parallel. Entries are dropped once no goroutine holds or waits for them.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

// refLock is a one-slot semaphore so that waiting can be abandoned.
type refLock struct {
	sem  chan struct{}
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyLock) Lock(key string) (unlock func()) {
	unlock, _ = k.LockOrAbort(key, nil)

	return unlock
}

// LockOrAbort is Lock that gives up when abort is closed first. ok is false
// when the lock was not taken; a nil abort never fires.
func (k *keyLock) LockOrAbort(key string, abort <-chan struct{}) (unlock func(), ok bool) {
	l := k.acquire(key)

	select {
	case l.sem <- struct{}{}:
	case <-abort:
		k.release(key, l)
		return nil, false
	}

	return func() {
		<-l.sem
		k.release(key, l)
	}, true
}

func (k *keyLock) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &refLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++

	return l
}

func (k *keyLock) release(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
