package status

import "sync"

// Loading is the shared in-flight flag used to disable input while an
// orchestration step runs. It counts nested holders so overlapping steps do
// not clear each other's flag.
type Loading struct {
	mu      sync.Mutex
	holders int
}

// Begin marks a step as started and returns its release function. Release
// is idempotent; callers should defer it so every exit path clears the flag.
func (l *Loading) Begin() (release func()) {
	l.mu.Lock()
	l.holders++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.holders > 0 {
				l.holders--
			}
			l.mu.Unlock()
		})
	}
}

// Active reports whether any step is in flight.
func (l *Loading) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders > 0
}
