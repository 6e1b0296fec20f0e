package server

import "sync"

// defaultLockKey serializes runs that name no device at all.
const defaultLockKey = "default"

// LockRegistry hands out one mutex per device id so that runs targeting the
// same device are strictly serialized while runs on distinct devices proceed
// in parallel. Locks are created on first use and live for the life of the
// server; the registry's own guard is independent of the locks it hands out.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*sync.Mutex)}
}

// Acquire returns the lock for key, creating it on first use. An empty key
// maps to a shared default. The caller locks and unlocks the result.
func (r *LockRegistry) Acquire(key string) *sync.Mutex {
	if key == "" {
		key = defaultLockKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.locks[key] = l
	return l
}
