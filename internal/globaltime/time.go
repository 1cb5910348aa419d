// Package globaltime is the process clock. Tests pin it to make created_at
// ordering and decided_at stamps deterministic.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// Set pins the clock to t until Reset is called.
func Set(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	fixed := t
	nowFunc = func() time.Time { return fixed }
}

// Advance moves a pinned clock forward by d. It pins the clock first when it
// was still running on time.Now.
func Advance(d time.Duration) time.Time {
	mu.Lock()
	defer mu.Unlock()
	next := nowFunc().Add(d)
	nowFunc = func() time.Time { return next }
	return next
}

func Reset() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
