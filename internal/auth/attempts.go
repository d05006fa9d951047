package auth

import "sync"

// AttemptTracker counts consecutive failed revert attempts per key (the
// calling surface keys it by session and order). After limit consecutive
// failures Fail reports true and resets the counter: the caller must then
// invalidate the session.
type AttemptTracker struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func NewAttemptTracker(limit int) *AttemptTracker {
	if limit <= 0 {
		limit = 3
	}
	return &AttemptTracker{
		limit:  limit,
		counts: make(map[string]int),
	}
}

// Fail records one failed attempt and reports whether the limit was reached.
func (t *AttemptTracker) Fail(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[key]++
	if t.counts[key] >= t.limit {
		delete(t.counts, key)
		return true
	}
	return false
}

// Reset clears the counter, called after a successful attempt.
func (t *AttemptTracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.counts, key)
}
