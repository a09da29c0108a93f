package service

import (
	"sync"
)

// stampedeTracker counts resolves per key that missed every fresh layer and
// are headed upstream at the same time. A count above 1 means coalescing is
// off or the misses raced past it.
type stampedeTracker struct {
	mu     sync.Mutex
	misses map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{misses: make(map[string]int)}
}

// begin records a miss for key and returns the concurrent count including
// this one, plus a func that must be called once the miss is resolved.
func (st *stampedeTracker) begin(key string) (int, func()) {
	st.mu.Lock()
	st.misses[key]++
	n := st.misses[key]
	st.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			if st.misses[key] <= 1 {
				delete(st.misses, key)
				return
			}
			st.misses[key]--
		})
	}
}

func (st *stampedeTracker) active(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.misses[key]
}
