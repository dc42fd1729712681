package chat

import (
	"sort"
	"sync"
)

// Index is the in-memory view of every chat, keyed by category and id.
// Per category it remembers insertion order so the most recently added
// chat can be found without a timestamp sort.
type Index struct {
	mu         sync.RWMutex
	categories map[Category]*bucket
}

type bucket struct {
	order []string
	chats map[string]*Chat
}

func newBucket() *bucket {
	return &bucket{chats: make(map[string]*Chat)}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{categories: make(map[Category]*bucket)}
}

// Replace discards the current contents and loads all. Within a category the
// chats are ordered by CreatedAt, then id, since the source map has no order.
func (x *Index) Replace(all map[Category]map[string]*Chat) {
	categories := make(map[Category]*bucket, len(all))
	for category, chats := range all {
		b := newBucket()
		for id, c := range chats {
			if c == nil {
				continue
			}
			stored := c.Clone()
			stored.ID = id
			stored.Category = category
			b.chats[id] = stored
			b.order = append(b.order, id)
		}
		sort.SliceStable(b.order, func(i, j int) bool {
			a, z := b.chats[b.order[i]], b.chats[b.order[j]]
			if a.CreatedAt != z.CreatedAt {
				return a.CreatedAt < z.CreatedAt
			}
			return a.ID < z.ID
		})
		categories[category] = b
	}

	x.mu.Lock()
	x.categories = categories
	x.mu.Unlock()
}

// Get returns a copy of the chat at (category, id).
func (x *Index) Get(category Category, id string) (*Chat, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	b, ok := x.categories[category]
	if !ok {
		return nil, false
	}
	c, ok := b.chats[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Has reports whether (category, id) is present.
func (x *Index) Has(category Category, id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	b, ok := x.categories[category]
	if !ok {
		return false
	}
	_, ok = b.chats[id]
	return ok
}

// Put stores a copy of c, appending it to the category order when new.
func (x *Index) Put(c *Chat) {
	x.mu.Lock()
	defer x.mu.Unlock()

	b := x.bucketLocked(c.Category)
	if _, exists := b.chats[c.ID]; !exists {
		b.order = append(b.order, c.ID)
	}
	b.chats[c.ID] = c.Clone()
}

// Insert stores c only when (category, id) is absent and reports whether it did.
func (x *Index) Insert(c *Chat) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	b := x.bucketLocked(c.Category)
	if _, exists := b.chats[c.ID]; exists {
		return false
	}
	b.order = append(b.order, c.ID)
	b.chats[c.ID] = c.Clone()
	return true
}

// Update applies fn to the stored chat in place. It reports false when the
// chat does not exist.
func (x *Index) Update(category Category, id string, fn func(c *Chat)) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	b, ok := x.categories[category]
	if !ok {
		return false
	}
	c, ok := b.chats[id]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// Last returns the id most recently added to category.
func (x *Index) Last(category Category) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	b, ok := x.categories[category]
	if !ok || len(b.order) == 0 {
		return "", false
	}
	return b.order[len(b.order)-1], true
}

// Len returns the number of chats in category.
func (x *Index) Len(category Category) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if b, ok := x.categories[category]; ok {
		return len(b.chats)
	}
	return 0
}

// List returns copies of the chats in category, newest UpdatedAt first.
// Chats without UpdatedAt sort last. A limit <= 0 returns everything.
func (x *Index) List(category Category, limit int) []*Chat {
	x.mu.RLock()
	b, ok := x.categories[category]
	if !ok {
		x.mu.RUnlock()
		return []*Chat{}
	}
	out := make([]*Chat, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.chats[id].Clone())
	}
	x.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedTime().After(out[j].UpdatedTime())
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (x *Index) bucketLocked(category Category) *bucket {
	b, ok := x.categories[category]
	if !ok {
		b = newBucket()
		x.categories[category] = b
	}
	return b
}
