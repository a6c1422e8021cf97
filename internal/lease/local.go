package lease

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process lease table. It guards against a manual sweep overlapping a
// scheduled one inside the same daemon.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocal returns an empty in-process lease table.
func NewLocal() *Local {
	return &Local{
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

// TryAcquire takes name for at most ttl. An expired holder is treated as gone.
func (l *Local) TryAcquire(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if expires, ok := l.held[name]; ok && now.Before(expires) {
		return nil, false, nil
	}
	expires := now.Add(ttl)
	l.held[name] = expires
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[name].Equal(expires) {
				delete(l.held, name)
			}
		})
	}
	return release, true, nil
}
