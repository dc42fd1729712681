package chat

import "sync"

// chatLocks serializes writers per chat key. Entries are reference counted
// and dropped once no goroutine holds or waits for them.
type chatLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{entries: make(map[string]*lockEntry)}
}

func (l *chatLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
