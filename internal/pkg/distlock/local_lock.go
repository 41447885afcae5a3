package distlock

import (
	"context"
	"sync"
)

var local = struct {
	mu   sync.Mutex
	held map[string]bool
}{held: make(map[string]bool)}

// LocalLock excludes holders within this process only. It is the fallback
// for single-replica deployments.
type LocalLock struct {
	key   string
	owned bool
}

// NewLocalLock creates a process-local lock on key.
func NewLocalLock(key string) *LocalLock {
	return &LocalLock{key: key}
}

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	local.mu.Lock()
	defer local.mu.Unlock()
	if local.held[l.key] {
		return false, nil
	}
	local.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *LocalLock) Release(context.Context) error {
	local.mu.Lock()
	defer local.mu.Unlock()
	if !l.owned {
		return ErrNotHeld
	}
	delete(local.held, l.key)
	l.owned = false
	return nil
}
