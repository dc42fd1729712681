// Package memory keeps chats in process memory. It backs tests and local
// runs that do not need durable storage.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
)

// Store implements the chat repository with nested maps.
type Store struct {
	mu    sync.RWMutex
	chats map[chat.Category]map[string]*chat.Chat
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{chats: make(map[chat.Category]map[string]*chat.Chat)}
}

// Seed stores copies of chats, overwriting existing entries.
func (s *Store) Seed(chats ...*chat.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chats {
		s.bucketLocked(c.Category)[c.ID] = c.Clone()
	}
}

// ListAll returns a copy of every stored chat.
func (s *Store) ListAll(ctx context.Context) (map[chat.Category]map[string]*chat.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[chat.Category]map[string]*chat.Chat, len(s.chats))
	for category, chats := range s.chats {
		copied := make(map[string]*chat.Chat, len(chats))
		for id, c := range chats {
			copied[id] = c.Clone()
		}
		out[category] = copied
	}
	return out, nil
}

// Get returns a copy of the chat at (category, id).
func (s *Store) Get(ctx context.Context, category chat.Category, id string) (*chat.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[category][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", chat.ErrNotFound, category, id)
	}
	return c.Clone(), nil
}

// Create stores c unless the key is already taken.
func (s *Store) Create(ctx context.Context, c *chat.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucketLocked(c.Category)
	if _, exists := bucket[c.ID]; exists {
		return nil
	}
	bucket[c.ID] = c.Clone()
	return nil
}

// AppendTurns replaces the stored transcript with turns.
func (s *Store) AppendTurns(ctx context.Context, category chat.Category, id string, turns []chat.Turn, updatedAt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucketLocked(category)
	c, ok := bucket[id]
	if !ok {
		c = &chat.Chat{ID: id, Category: category, CreatedAt: updatedAt}
		bucket[id] = c
	}
	c.Messages = append(chat.Transcript{}, turns...)
	if updatedAt != "" {
		c.UpdatedAt = updatedAt
	}
	return nil
}

// UpdateFields merges the non-empty fields into the stored chat.
func (s *Store) UpdateFields(ctx context.Context, category chat.Category, id string, fields chat.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fields.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucketLocked(category)
	c, ok := bucket[id]
	if !ok {
		c = &chat.Chat{ID: id, Category: category}
		bucket[id] = c
	}
	fields.Apply(c)
	return nil
}

func (s *Store) bucketLocked(category chat.Category) map[string]*chat.Chat {
	bucket, ok := s.chats[category]
	if !ok {
		bucket = make(map[string]*chat.Chat)
		s.chats[category] = bucket
	}
	return bucket
}
