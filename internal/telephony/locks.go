package telephony

import "sync"

// lockRegistry hands out one mutex per call so entry, turn, poll, and
// finalization for the same call never interleave within this process.
// Entries are reference counted and dropped once released, so the map
// does not grow with call volume.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*callLock
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*callLock)}
}

// Acquire blocks until the per-call lock is held and returns the release
// function.
func (r *lockRegistry) Acquire(key string) func() {
	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &callLock{}
		r.locks[key] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}
