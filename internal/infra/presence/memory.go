package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker keeps markers in a map with lazy expiry. Used in dev mode and
// tests where no redis is around.
type MemoryTracker struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[int64]time.Time
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTracker{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[int64]time.Time),
	}
}

func (t *MemoryTracker) Touch(ctx context.Context, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[userID] = t.now().Add(t.ttl)
	return nil
}

func (t *MemoryTracker) Online(ctx context.Context, userID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline, ok := t.seen[userID]
	if !ok {
		return false, nil
	}
	if t.now().After(deadline) {
		delete(t.seen, userID)
		return false, nil
	}
	return true, nil
}

func (t *MemoryTracker) Forget(ctx context.Context, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, userID)
	return nil
}

var _ Tracker = (*MemoryTracker)(nil)
