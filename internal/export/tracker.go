package export

import "sync"

// completionTracker counts finished property fetches and runs fire exactly
// once, when the count reaches total. Completions past total are ignored.
type completionTracker struct {
	mu        sync.Mutex
	total     int
	completed int
	once      sync.Once
	fire      func()
}

func newCompletionTracker(total int, fire func()) *completionTracker {
	t := &completionTracker{total: total, fire: fire}
	if total == 0 {
		t.once.Do(fire)
	}
	return t
}

// complete records one completion and reports whether it was counted.
func (t *completionTracker) complete() bool {
	t.mu.Lock()
	if t.completed >= t.total {
		t.mu.Unlock()
		return false
	}
	t.completed++
	done := t.completed == t.total
	t.mu.Unlock()

	if done {
		t.once.Do(t.fire)
	}
	return true
}

func (t *completionTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
